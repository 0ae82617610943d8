package types

// User is an account loaded from the user store. PasswordHash and Salt are
// stored base64-encoded by the file backend; the postgres backend stores a
// bcrypt hash and leaves Salt empty.
type User struct {
	Username     string
	PasswordHash string
	Salt         string
}

// Equal reports whether two users are the same account. Identity is the
// username, not the credential material.
func (u User) Equal(other User) bool {
	return u.Username == other.Username
}
