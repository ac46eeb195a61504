package library

import "regexp"

var (
	// 4 to 512 characters, none of them blank.
	usernamePattern = regexp.MustCompile(`^[^\s]{4,512}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)
)

// IsUsernameLegit reports whether s is an acceptable username.
func IsUsernameLegit(s string) bool {
	return usernamePattern.MatchString(s)
}

// IsEmailLegit reports whether s looks like local@domain.tld.
func IsEmailLegit(s string) bool {
	return emailPattern.MatchString(s)
}
