package therapist

import (
	therapistmodel "github.com/frahmantamala/counseling-booking/internal/core/datamodel/therapist"
)

// TherapistDTO is the public catalog entry.
type TherapistDTO struct {
	ID             int64  `json:"id"`
	FullName       string `json:"full_name"`
	Title          string `json:"title,omitempty"`
	Specialties    string `json:"specialties,omitempty"`
	Bio            string `json:"bio,omitempty"`
	SessionFee     int64  `json:"session_fee"`
	Currency       string `json:"currency"`
	OffersOnline   bool   `json:"offers_online"`
	OffersInPerson bool   `json:"offers_in_person"`
	Active         bool   `json:"active"`
}

func NewTherapistResponse(t *therapistmodel.Therapist) *TherapistDTO {
	return &TherapistDTO{
		ID:             t.ID,
		FullName:       t.FullName,
		Title:          t.Title,
		Specialties:    t.Specialties,
		Bio:            t.Bio,
		SessionFee:     t.SessionFee,
		Currency:       t.Currency,
		OffersOnline:   t.OffersOnline,
		OffersInPerson: t.OffersInPerson,
		Active:         t.Active,
	}
}

func NewTherapistListResponse(ts []*therapistmodel.Therapist) []*TherapistDTO {
	out := make([]*TherapistDTO, 0, len(ts))
	for _, t := range ts {
		out = append(out, NewTherapistResponse(t))
	}
	return out
}
