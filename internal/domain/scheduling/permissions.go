package scheduling

import "github.com/clinic/clinic/internal/platform/auth"

// Permissions is what a role may do on the calendar. The front-end hides
// controls with it; the service enforces the same table.
type Permissions struct {
	CanBook       bool `json:"can_book"`
	CanEdit       bool `json:"can_edit"`
	CanApprove    bool `json:"can_approve"`
	CanViewAll    bool `json:"can_view_all"`
	IsPatientView bool `json:"is_patient_view"`
	IsDoctorView  bool `json:"is_doctor_view"`
}

func PermissionsFor(role string) Permissions {
	switch role {
	case auth.RoleAdmin:
		return Permissions{CanBook: true, CanEdit: true, CanApprove: true, CanViewAll: true}
	case auth.RoleReceptionist, auth.RoleNurse:
		return Permissions{CanBook: true, CanEdit: true, CanViewAll: true}
	case auth.RoleDoctor:
		return Permissions{CanEdit: true, CanApprove: true, IsDoctorView: true}
	case auth.RolePatient:
		return Permissions{IsPatientView: true}
	}
	return Permissions{}
}
