package apiclient

// Disease is one entry of the disease guide.
type Disease struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Symptoms           []string `json:"symptoms"`
	Treatments         []string `json:"treatments"`
	PreventiveMeasures []string `json:"preventive_measures"`
}

// Prediction is one entry of a user's prediction history.
type Prediction struct {
	ID          string  `json:"id"`
	DiseaseName string  `json:"disease_name"`
	Confidence  float64 `json:"confidence"`
	Timestamp   string  `json:"timestamp"`
	Filename    string  `json:"filename"`
}

// Token is the response of the login endpoint.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// User is the account returned by the auth endpoints.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	IsActive bool   `json:"is_active"`
}

// Registration is the payload of the register endpoint.
type Registration struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name,omitempty"`
}
