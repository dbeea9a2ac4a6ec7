package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"helpdesk-bot/models"
)

const fbGraphAPI = "https://graph.facebook.com/v18.0"

// Profile is the subset of the upstream user profile we denormalize
type Profile struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Picture   string `json:"profile_pic"`
}

// Name renders the display name, falling back to a stub derived from the
// external ID when the platform returned nothing
func (p *Profile) Name() string {
	switch {
	case p == nil:
		return ""
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}

// FallbackName builds a readable stand-in name from an external user ID
func FallbackName(externalID string) string {
	if externalID == "" {
		return "User"
	}
	n := len(externalID)
	if n > 8 {
		n = 8
	}
	return fmt.Sprintf("User %s", externalID[:n])
}

// GraphClient talks to the social platform's Graph API: outbound replies and
// lazy profile/post lookups
type GraphClient struct {
	baseURL string
	client  *http.Client
}

// NewGraphClient returns a Graph API client with a bounded per-call timeout
func NewGraphClient() *GraphClient {
	return &GraphClient{
		baseURL: fbGraphAPI,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// SendMessage sends a direct message to a user and returns the upstream
// message ID, which tags the persisted message so the platform's echo of it
// deduplicates away.
func (g *GraphClient) SendMessage(ctx context.Context, page *models.Page, recipientID, text string, attachment *models.Attachment) (string, error) {
	url := fmt.Sprintf("%s/me/messages?access_token=%s", g.baseURL, page.AccessToken)

	message := map[string]interface{}{}
	if text != "" {
		message["text"] = text
	}
	if attachment != nil {
		message["attachment"] = map[string]interface{}{
			"type": attachment.Type,
			"payload": map[string]interface{}{
				"url":         attachment.URL,
				"is_reusable": true,
			},
		}
	}

	payload := map[string]interface{}{
		"recipient": map[string]string{"id": recipientID},
		"message":   message,
	}

	body, err := g.post(ctx, url, payload)
	if err != nil {
		return "", err
	}

	var result struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}

	return result.MessageID, nil
}

// ReplyToComment posts a reply under a comment and returns the new comment's
// upstream ID
func (g *GraphClient) ReplyToComment(ctx context.Context, page *models.Page, commentID, text string) (string, error) {
	url := fmt.Sprintf("%s/%s/comments?access_token=%s", g.baseURL, commentID, page.AccessToken)

	body, err := g.post(ctx, url, map[string]string{"message": text})
	if err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}

	return result.ID, nil
}

// FetchProfile retrieves a user's display profile
func (g *GraphClient) FetchProfile(ctx context.Context, page *models.Page, userID string) (*Profile, error) {
	url := fmt.Sprintf("%s/%s?fields=first_name,last_name,profile_pic&access_token=%s", g.baseURL, userID, page.AccessToken)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user profile: %s", resp.Status)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, err
	}

	return &profile, nil
}

// FetchPost retrieves the content and metadata of a post for denormalization
// onto comment-sourced conversations
func (g *GraphClient) FetchPost(ctx context.Context, page *models.Page, postID string) (*PostMeta, error) {
	url := fmt.Sprintf("%s/%s?fields=message,permalink_url,created_time,full_picture&access_token=%s", g.baseURL, postID, page.AccessToken)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get post: %s", resp.Status)
	}

	var result struct {
		Message     string `json:"message"`
		Permalink   string `json:"permalink_url"`
		CreatedTime string `json:"created_time"`
		FullPicture string `json:"full_picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	meta := &PostMeta{
		Content:   result.Message,
		Permalink: result.Permalink,
	}
	if result.FullPicture != "" {
		meta.Photos = []string{result.FullPicture}
	}
	if result.CreatedTime != "" {
		if t, err := time.Parse("2006-01-02T15:04:05-0700", result.CreatedTime); err == nil {
			meta.CreatedAt = &t
		}
	}

	return meta, nil
}

func (g *GraphClient) post(ctx context.Context, url string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		slog.Error("Graph API call failed", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("graph API call failed: %s", resp.Status)
	}

	return body, nil
}
