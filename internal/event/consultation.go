package event

import "time"

type ConsultationType int

const (
	ConsultationHospital ConsultationType = iota
	ConsultationDoctor
	ConsultationDeal
)

func (t ConsultationType) String() string {
	switch t {
	case ConsultationDoctor:
		return "doctor"
	case ConsultationDeal:
		return "deal"
	default:
		return "hospital"
	}
}

type ConsultationStatus int

const (
	StatusNew ConsultationStatus = iota
	StatusRejected
	StatusApproved
	StatusPaid
	StatusCanceled
	StatusRefundRequested
	StatusRefunded
)

// Consultation is the consultation-updated webhook payload, also re-read
// from the business database at dispatch time.
type Consultation struct {
	ID                 string             `json:"id"`
	PatientID          string             `json:"patientId"`
	ConfirmedDateStart time.Time          `json:"confirmedDateStart"`
	ConsultationType   ConsultationType   `json:"consultationType"`
	Status             ConsultationStatus `json:"status,omitempty"`
	HospitalID         string             `json:"hospitalId"`
	HospitalName       string             `json:"hospitalName,omitempty"`
	HospitalWebsiteURL string             `json:"hospitalWebsiteUrl,omitempty"`
	IsOpen             bool               `json:"isOpen"`
}

// NotificationCode identifies the business event a ledger entry belongs to.
type NotificationCode int

const (
	CodeConsultationNew             NotificationCode = 4000
	CodeConsultationUpdated         NotificationCode = 4050
	CodeConsultationRejected        NotificationCode = 4100
	CodeConsultationApproved        NotificationCode = 4200
	CodeConsultationPaid            NotificationCode = 4300
	CodeConsultationCanceled        NotificationCode = 4400
	CodeConsultationRefundRequested NotificationCode = 4500
	CodeConsultationRefunded        NotificationCode = 4600
	CodeConsultationReady           NotificationCode = 5000
)
