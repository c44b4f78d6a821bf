package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectProvince(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
	}{
		{name: "two-letter code", address: "123 Main St, Toronto ON M5V 1A1", want: "ON"},
		{name: "lowercase code", address: "99 King St, Vancouver bc", want: "BC"},
		{name: "full name", address: "5 Portage Ave, Winnipeg, Manitoba", want: "MB"},
		{name: "accented name", address: "12 Rue Principale, Montréal, Québec", want: "QC"},
		{name: "full name beats stray code", address: "1 Ontario Street, Halifax, Nova Scotia", want: "NS"},
		{name: "newfoundland long form", address: "Corner Brook, Newfoundland and Labrador", want: "NL"},
		{name: "no province", address: "somewhere far away", want: ""},
		{name: "empty address", address: "", want: ""},
		{name: "code embedded in word ignored", address: "123 FRONT St", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectProvince(tt.address))
		})
	}
}
