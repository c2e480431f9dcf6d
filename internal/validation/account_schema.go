package validation

// AccountSchema holds the rules for account fields.
var AccountSchema = Schema{
	"id": {
		Type:     TypeString,
		Required: true,
		Tag:      "required",
		Messages: Messages{
			Required:   "Please provide the account id.",
			Type:       "Please provide a valid account id.",
			Constraint: "Please provide the account id.",
		},
	},
	"email": {
		Type:     TypeString,
		Required: true,
		Tag:      "required,email",
		Messages: Messages{
			Required:   "Please provide a valid email.",
			Type:       "Please provide a valid email.",
			Constraint: "Please provide a valid email.",
		},
	},
	"password": {
		Type:     TypeString,
		Required: true,
		Tag:      "min=7",
		Messages: Messages{
			Required:   "Please provide a password.",
			Constraint: "Your password should be at least 7 characters long.",
		},
	},
	"newPassword": {
		Type:     TypeString,
		Required: true,
		Tag:      "min=7",
		Messages: Messages{
			Required:   "Please provide a password.",
			Constraint: "Your password should be at least 7 characters long.",
		},
	},
	"fullName": {
		Type:     TypeString,
		Required: true,
		Tag:      "required",
		Messages: Messages{
			Required:   "Please provide your name.",
			Constraint: "Please provide your full name.",
		},
	},
	"billing": {
		Type:     TypeObject,
		Objects:  []string{"customer", "subscription"},
		Messages: Messages{
			Type: "Please provide valid billing details.",
		},
	},
	"token": {
		Type:     TypeString,
		Required: true,
		Tag:      "required",
		Messages: Messages{
			Required:   "Please provide the token.",
			Type:       "Please provide a valid token.",
			Constraint: "Please provide the token.",
		},
	},
	"scope": {
		Type:     TypeStringList,
		Required: true,
		Tag:      "dive,oneof=user admin",
		Messages: Messages{
			Required:   "Please provide the account scope.",
			Type:       "Please provide a valid account scope.",
			Constraint: "Please provide a valid account scope.",
		},
	},
}
