package model

// Member is the authenticated community member a session belongs to.
type Member struct {
	ID              int64  `json:"id"`
	Nickname        string `json:"nickname"`
	ProfileImageURL string `json:"profileImageUrl"`
}
