package dto

// Request bodies are decoded into dedicated structs to prevent any
// mass-assignment style surprises.

type RegisterKeyRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type RevokeKeyRequest struct {
	Key string `json:"key"`
}

type QueryByKeyRequest struct {
	APIKey string `json:"api_key"`
}

type SubmitCallbackRequest struct {
	CallbackURL string `json:"callback_url"`
}

type GenerateKeysRequest struct {
	Count int `json:"count"`
}

type SendNotificationRequest struct {
	Email string `json:"email"`
	Type  string `json:"type"`
}
