package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		a, b string
	}{
		{"accents and case", "Avenida Simón Bolívar 12", "avenida simon bolivar 12"},
		{"punctuation", "Calle 26 #68-35", "calle 26 # 68 - 35"},
		{"abbreviation", "Av. Siempre Viva 742", "Avenida siempre viva 742"},
		{"number marker", "Cra 7 No. 40", "carrera 7 40"},
		{"whitespace", "  Main   St ", "main street"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, Normalize(tc.a), Normalize(tc.b))
		})
	}
	assert.NotEqual(t, Normalize("Calle 26"), Normalize("Calle 27"))
	assert.Equal(t, "", Normalize(" - "))
}
