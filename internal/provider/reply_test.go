package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateReply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain text", "Сталь 45 ГОСТ 1050-2013", false},
		{"empty", "", true},
		{"whitespace only", "  \n\t ", true},
		{"refusal english", "I'm sorry, but I am unable to process images directly.", true},
		{"refusal capability", "As a text model I am not capable of directly processing PDF files.", true},
		{"refusal apologetic", "Unfortunately, this document cannot be read.", true},
		{"mentions pdf legitimately", "Чертеж детали, лист 1. PDF версия 1.4 указана в штампе.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReply(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
