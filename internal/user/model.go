package user

type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Image    string `json:"image"`
	Password string `json:"-"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status,omitempty"`
	Image    string `json:"image,omitempty"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
}

// UpdateProfileRequest replaces name, status and image. An empty password keeps the current one.
type UpdateProfileRequest struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Image    string `json:"image"`
	Password string `json:"password"`
}

type BlockRequest struct {
	UserID int `json:"user_id"`
}
