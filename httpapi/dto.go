package httpapi

import (
	"time"

	"boardportal/resolution"
)

type createRequest struct {
	ID               string             `json:"id,omitempty"`
	MeetingDate      string             `json:"meeting_date"`
	AgreementDetails string             `json:"agreement_details"`
	DeadlineDays     int                `json:"deadline_days,omitempty"`
	Signatories      []signatoryRequest `json:"signatories"`
}

type signatoryRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	JobTitle string `json:"job_title,omitempty"`
}

type signRequest struct {
	SignatoryID string `json:"signatory_id"`
	OTP         string `json:"otp,omitempty"`
}

type signatoryResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	JobTitle      string `json:"job_title,omitempty"`
	SignedAt      string `json:"signed_at,omitempty"`
	SignatureHash string `json:"signature_hash,omitempty"`
}

type resolutionResponse struct {
	ID               string              `json:"id"`
	Status           string              `json:"status"`
	MeetingDate      string              `json:"meeting_date"`
	DeadlineAt       string              `json:"deadline_at"`
	AgreementDetails string              `json:"agreement_details"`
	BarcodeData      string              `json:"barcode_data"`
	SignedCount      int                 `json:"signed_count"`
	AllSigned        bool                `json:"all_signed"`
	Signatories      []signatoryResponse `json:"signatories"`
	CreatedAt        string              `json:"created_at"`
	UpdatedAt        string              `json:"updated_at"`
}

type listResponse struct {
	Items []resolutionResponse `json:"items"`
	Total int                  `json:"total"`
}

type documentResponse struct {
	Locale   string `json:"locale"`
	Location string `json:"location"`
	Digest   string `json:"digest"`
}

type finalizeResponse struct {
	Resolution resolutionResponse `json:"resolution"`
	Documents  []documentResponse `json:"documents"`
}

type reminderResponse struct {
	ResolutionID string   `json:"resolution_id"`
	Outstanding  []string `json:"outstanding"`
	Urgent       bool     `json:"urgent"`
	DeadlineAt   string   `json:"deadline_at"`
	SentAt       string   `json:"sent_at"`
}

func toResolutionResponse(r resolution.Resolution) resolutionResponse {
	out := resolutionResponse{
		ID:               r.ID,
		Status:           string(r.Status),
		MeetingDate:      r.MeetingDate.UTC().Format(time.RFC3339),
		DeadlineAt:       r.DeadlineAt.UTC().Format(time.RFC3339),
		AgreementDetails: r.AgreementDetails,
		BarcodeData:      r.BarcodeData,
		SignedCount:      r.SignedCount(),
		AllSigned:        r.AllSigned(),
		Signatories:      make([]signatoryResponse, 0, len(r.Signatories)),
		CreatedAt:        r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, s := range r.Signatories {
		sig := signatoryResponse{ID: s.ID, Name: s.Name, Email: s.Email, JobTitle: s.JobTitle}
		if s.SignedAt != nil {
			sig.SignedAt = s.SignedAt.UTC().Format(time.RFC3339Nano)
		}
		if s.SignatureHash != nil {
			sig.SignatureHash = *s.SignatureHash
		}
		out.Signatories = append(out.Signatories, sig)
	}
	return out
}
