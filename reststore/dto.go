package reststore

import (
	"time"

	"boardportal/resolution"
)

// SignatoryDTO is the wire form of a seat.
type SignatoryDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email,omitempty"`
	JobTitle      string     `json:"job_title,omitempty"`
	SignedAt      *time.Time `json:"signed_at,omitempty"`
	SignatureHash *string    `json:"signature_hash,omitempty"`
}

// ResolutionDTO is the wire form of a resolution.
type ResolutionDTO struct {
	ID               string         `json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	MeetingDate      time.Time      `json:"meeting_date"`
	AgreementDetails string         `json:"agreement_details"`
	Status           string         `json:"status"`
	DeadlineAt       time.Time      `json:"deadline_at"`
	Signatories      []SignatoryDTO `json:"signatories"`
	BarcodeData      string         `json:"barcode_data"`
}

type listResponse struct {
	Items []ResolutionDTO `json:"items"`
}

type signatureRequest struct {
	SignedAt      time.Time `json:"signed_at"`
	SignatureHash string    `json:"signature_hash"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type transitionRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func FromResolution(r resolution.Resolution) ResolutionDTO {
	out := ResolutionDTO{
		ID:               r.ID,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		MeetingDate:      r.MeetingDate.UTC(),
		AgreementDetails: r.AgreementDetails,
		Status:           string(r.Status),
		DeadlineAt:       r.DeadlineAt.UTC(),
		Signatories:      make([]SignatoryDTO, 0, len(r.Signatories)),
		BarcodeData:      r.BarcodeData,
	}
	for _, s := range r.Signatories {
		dto := SignatoryDTO{
			ID:       s.ID,
			Name:     s.Name,
			Email:    s.Email,
			JobTitle: s.JobTitle,
		}
		if s.SignedAt != nil {
			at := s.SignedAt.UTC()
			dto.SignedAt = &at
		}
		if s.SignatureHash != nil {
			h := *s.SignatureHash
			dto.SignatureHash = &h
		}
		out.Signatories = append(out.Signatories, dto)
	}
	return out
}

func (d ResolutionDTO) ToResolution() resolution.Resolution {
	out := resolution.Resolution{
		ID:               d.ID,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
		MeetingDate:      d.MeetingDate.UTC(),
		AgreementDetails: d.AgreementDetails,
		Status:           resolution.Status(d.Status),
		DeadlineAt:       d.DeadlineAt.UTC(),
		BarcodeData:      d.BarcodeData,
	}
	for _, s := range d.Signatories {
		sig := resolution.Signatory{
			ID:            s.ID,
			Name:          s.Name,
			Email:         s.Email,
			JobTitle:      s.JobTitle,
			SignatureHash: s.SignatureHash,
		}
		if s.SignedAt != nil {
			at := s.SignedAt.UTC()
			sig.SignedAt = &at
		}
		out.Signatories = append(out.Signatories, sig)
	}
	return out
}
