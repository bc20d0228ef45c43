package auth

// Roles known to the clinic.
const (
	RoleAdmin        = "admin"
	RoleReceptionist = "receptionist"
	RoleNurse        = "nurse"
	RoleDoctor       = "doctor"
	RolePatient      = "patient"
	RolePharmacist   = "pharmacist"
)

// rolePrecedence orders roles from most to least privileged.
var rolePrecedence = []string{
	RoleAdmin, RoleReceptionist, RoleNurse, RoleDoctor, RolePatient, RolePharmacist,
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	for _, known := range rolePrecedence {
		if r == known {
			return true
		}
	}
	return false
}

// PrimaryRole picks the most privileged known role from a token's role list.
// Unknown roles are ignored; an empty result means no usable role.
func PrimaryRole(roles []string) string {
	for _, candidate := range rolePrecedence {
		for _, r := range roles {
			if r == candidate {
				return candidate
			}
		}
	}
	return ""
}

// IsStaff reports whether the role sees every patient's appointments.
func IsStaff(role string) bool {
	switch role {
	case RoleAdmin, RoleReceptionist, RoleNurse:
		return true
	}
	return false
}
