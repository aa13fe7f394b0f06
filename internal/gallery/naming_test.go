package gallery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStudentKey(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		wantKey     string
		wantDisplay string
		wantRoll    int
	}{
		{
			name:        "two-part name with extension",
			fileName:    "amit_kumar_1.jpg",
			wantKey:     "amit_kumar_1",
			wantDisplay: "Amit Kumar",
			wantRoll:    1,
		},
		{
			name:        "single name",
			fileName:    "priya_42.png",
			wantKey:     "priya_42",
			wantDisplay: "Priya",
			wantRoll:    42,
		},
		{
			name:        "three-part name",
			fileName:    "maria_de_souza_7.jpeg",
			wantKey:     "maria_de_souza_7",
			wantDisplay: "Maria De Souza",
			wantRoll:    7,
		},
		{
			name:        "uppercase input is normalized",
			fileName:    "Amit_Kumar_1.JPG",
			wantKey:     "amit_kumar_1",
			wantDisplay: "Amit Kumar",
			wantRoll:    1,
		},
		{
			name:        "path prefix is ignored",
			fileName:    "/data/photos/amit_kumar_1.jpg",
			wantKey:     "amit_kumar_1",
			wantDisplay: "Amit Kumar",
			wantRoll:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStudentKey(tt.fileName)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, got.Key)
			assert.Equal(t, tt.wantDisplay, got.DisplayName)
			assert.Equal(t, tt.wantRoll, got.RollNumber)
		})
	}
}

func TestParseStudentKey_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
	}{
		{"no underscore", "amitkumar.jpg"},
		{"no trailing number", "amit_kumar.jpg"},
		{"empty name segment", "_1.jpg"},
		{"empty file name", ""},
		{"only a number", "42.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStudentKey(tt.fileName)
			assert.Error(t, err)
		})
	}
}
