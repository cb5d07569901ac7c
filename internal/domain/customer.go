package domain

import "time"

// RiskRating is a customer's compliance risk classification.
type RiskRating string

const (
	RiskLow      RiskRating = "low"
	RiskMedium   RiskRating = "medium"
	RiskHigh     RiskRating = "high"
	RiskCritical RiskRating = "critical"
)

// Valid reports whether r is a known risk rating.
func (r RiskRating) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// KYCStatus is the state of a customer's know-your-customer review.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
	KYCExpired  KYCStatus = "expired"
)

// Valid reports whether s is a known KYC status.
func (s KYCStatus) Valid() bool {
	switch s {
	case KYCPending, KYCVerified, KYCRejected, KYCExpired:
		return true
	}
	return false
}

// Customer is the canonical customer record.
// RiskRating and RiskScore are only changed by an update_customer_risk
// action or an explicit compliance review, never by a transaction write.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	OnboardedAt time.Time `json:"onboardedAt"`

	RiskRating RiskRating `json:"riskRating"`
	RiskScore  *float64   `json:"riskScore,omitempty"`
	KYCStatus  KYCStatus  `json:"kycStatus"`

	IsPEP        bool `json:"isPep"`
	SanctionsHit bool `json:"sanctionsHit"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// User is a compliance team member that alerts can be assigned to.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email,omitempty"`
	Role         string     `json:"role"`
	Active       bool       `json:"active"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
}

// Roles whose members are eligible for alert auto-assignment.
const (
	RoleComplianceOfficer = "compliance_officer"
	RoleAnalyst           = "analyst"
	RoleInvestigator      = "investigator"
)

// AssignableRoles returns the roles considered for auto-assignment.
func AssignableRoles() []string {
	return []string{RoleComplianceOfficer, RoleAnalyst, RoleInvestigator}
}
