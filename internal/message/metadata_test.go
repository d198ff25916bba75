package message

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/loqui/messenger/internal/errs"
)

func TestValidateMetadata(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		raw     string
		wantErr bool
	}{
		{"text without metadata", KindText, "", false},
		{"text with metadata", KindText, `{"url":"x"}`, true},
		{"image ok", KindImage, `{"url":"https://cdn/img.png","mime_type":"image/png","size_bytes":2048,"width":800,"height":600}`, false},
		{"image missing url", KindImage, `{"mime_type":"image/png","size_bytes":2048}`, true},
		{"image unknown field", KindImage, `{"url":"x","mime_type":"image/png","size_bytes":1,"bogus":1}`, true},
		{"image no metadata", KindImage, "", true},
		{"file ok", KindFile, `{"url":"https://cdn/doc.pdf","name":"doc.pdf","mime_type":"application/pdf","size_bytes":1024}`, false},
		{"file missing name", KindFile, `{"url":"x","mime_type":"application/pdf","size_bytes":10}`, true},
		{"video ok", KindVideo, `{"url":"https://cdn/v.mp4","mime_type":"video/mp4","size_bytes":9000,"duration_ms":12000}`, false},
		{"audio ok", KindAudio, `{"url":"https://cdn/a.ogg","mime_type":"audio/ogg","size_bytes":3000,"duration_ms":3000}`, false},
		{"location ok", KindLocation, `{"latitude":48.85,"longitude":2.35}`, false},
		{"location out of range", KindLocation, `{"latitude":91,"longitude":2.35}`, true},
		{"service offer ok", KindServiceOffer, `{"service_id":"svc_1","title":"Haircut","price_cents":4500,"currency":"EUR"}`, false},
		{"service offer missing title", KindServiceOffer, `{"service_id":"svc_1","price_cents":1,"currency":"EUR"}`, true},
		{"booking request ok", KindBookingRequest, `{"booking_id":"bk_1","service_id":"svc_1","starts_at":"2026-09-01T10:00:00Z"}`, false},
		{"system ok", KindSystem, `{"event":"participant_added"}`, false},
		{"malformed json", KindImage, `{"url":`, true},
		{"unknown kind", Kind("carrier_pigeon"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw json.RawMessage
			if tt.raw != "" {
				raw = json.RawMessage(tt.raw)
			}
			err := ValidateMetadata(tt.kind, raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidateMetadata(%s) = nil, want error", tt.kind)
				}
				if !errors.Is(err, errs.ErrValidation) {
					t.Errorf("error %v is not a validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateMetadata(%s) = %v, want nil", tt.kind, err)
			}
		})
	}
}
