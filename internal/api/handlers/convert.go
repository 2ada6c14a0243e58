package handlers

import (
	"reelkit.io/reelkit/internal/media"
)

// Account is the API view of an account.
type Account struct {
	Uniquename string   `json:"uniquename"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Platforms  []string `json:"platforms"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"creation_date"`
}

// AccountList is the response of GET /accounts.
type AccountList struct {
	Items []Account `json:"items"`
}

// PostResult is the response of the publication steps.
type PostResult struct {
	ID           string `json:"id"`
	Platform     string `json:"platform"`
	Outcome      string `json:"outcome"`
	Status       string `json:"status"`
	UploadStatus string `json:"upload_status"`
	Deleted      bool   `json:"deleted,omitempty"`
}

// PendingPostList is the response of GET /posts/pending.
type PendingPostList struct {
	Platform string           `json:"platform"`
	Items    []media.PostInfo `json:"items"`
}

// PostInfoResponse adds the derived upload status to media.PostInfo.
type PostInfoResponse struct {
	media.PostInfo
	UploadStatus string `json:"upload_status"`
}

// defaultLimit bounds list responses.
func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func accountToAPI(a *media.Account) Account {
	platforms := a.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	return Account{
		Uniquename: a.Uniquename(),
		Name:       a.Name,
		Email:      a.Email,
		Platforms:  platforms,
		Status:     string(a.Status()),
		CreatedAt:  a.CreationDate,
	}
}
