package model

// User is a registered relay participant. DisplayName is unique.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	PublicKey   []byte `json:"public_key"`
	Email       string `json:"email"`
}
