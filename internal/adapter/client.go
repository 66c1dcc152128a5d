package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Normalized item shapes. Every adapter returns `{items: [...]}` regardless
// of what the upstream responds with.
type Video struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelTitle string `json:"channel_title,omitempty"`
	Description  string `json:"description,omitempty"`
	Thumbnail    string `json:"thumbnail,omitempty"`
	PublishedAt  string `json:"published_at,omitempty"`
}

type Channel struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Subscribers int64  `json:"subscribers,omitempty"`
}

type Track struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

type VideoList struct {
	Items []Video `json:"items"`
}

type ChannelList struct {
	Items []Channel `json:"items"`
}

type TrackList struct {
	Items []Track `json:"items"`
}

// Upstream video API (YouTube-shaped).
type VideoAPI interface {
	Search(ctx context.Context, query string, maxResults int) ([]Video, error)
	VideoDetails(ctx context.Context, ids []string) ([]Video, error)
	Trending(ctx context.Context, region string, maxResults int) ([]Video, error)
	ChannelInfo(ctx context.Context, channelID string) (*Channel, error)
}

// Upstream music API (Spotify-shaped).
type MusicAPI interface {
	Search(ctx context.Context, query string, limit int) ([]Track, error)
	Recommendations(ctx context.Context, seed string, limit int) ([]Track, error)
}

const youtubeBaseURL = "https://www.googleapis.com/youtube/v3"

type YouTubeClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewYouTubeClient(apiKey string, timeout time.Duration) *YouTubeClient {
	return &YouTubeClient{
		apiKey:  apiKey,
		baseURL: youtubeBaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Subset of the YouTube v3 response we care about.
type youtubeResponse struct {
	Items []struct {
		ID json.RawMessage `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			ChannelID    string `json:"channelId"`
			ChannelTitle string `json:"channelTitle"`
			PublishedAt  string `json:"publishedAt"`
			Thumbnails   struct {
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			SubscriberCount string `json:"subscriberCount"`
		} `json:"statistics"`
	} `json:"items"`
}

func (c *YouTubeClient) Search(ctx context.Context, query string, maxResults int) ([]Video, error) {
	params := url.Values{
		"part":       {"snippet"},
		"type":       {"video"},
		"q":          {query},
		"maxResults": {strconv.Itoa(maxResults)},
	}
	resp, err := c.call(ctx, "/search", params)
	if err != nil {
		return nil, err
	}
	return c.videos(resp), nil
}

func (c *YouTubeClient) VideoDetails(ctx context.Context, ids []string) ([]Video, error) {
	params := url.Values{
		"part": {"snippet"},
		"id":   {strings.Join(ids, ",")},
	}
	resp, err := c.call(ctx, "/videos", params)
	if err != nil {
		return nil, err
	}
	return c.videos(resp), nil
}

func (c *YouTubeClient) Trending(ctx context.Context, region string, maxResults int) ([]Video, error) {
	params := url.Values{
		"part":       {"snippet"},
		"chart":      {"mostPopular"},
		"regionCode": {region},
		"maxResults": {strconv.Itoa(maxResults)},
	}
	resp, err := c.call(ctx, "/videos", params)
	if err != nil {
		return nil, err
	}
	return c.videos(resp), nil
}

func (c *YouTubeClient) ChannelInfo(ctx context.Context, channelID string) (*Channel, error) {
	params := url.Values{
		"part": {"snippet,statistics"},
		"id":   {channelID},
	}
	resp, err := c.call(ctx, "/channels", params)
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, errors.Errorf("channel %q not found", channelID)
	}

	item := resp.Items[0]
	subscribers, _ := strconv.ParseInt(item.Statistics.SubscriberCount, 10, 64)
	return &Channel{
		ID:          videoID(item.ID),
		Title:       item.Snippet.Title,
		Description: item.Snippet.Description,
		Subscribers: subscribers,
	}, nil
}

func (c *YouTubeClient) call(ctx context.Context, path string, params url.Values) (*youtubeResponse, error) {
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WithMessage(err, "youtube request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("youtube returned status %d", resp.StatusCode)
	}

	var parsed youtubeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.WithMessage(err, "decode youtube response")
	}
	return &parsed, nil
}

func (c *YouTubeClient) videos(resp *youtubeResponse) []Video {
	videos := make([]Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		videos = append(videos, Video{
			ID:           videoID(item.ID),
			Title:        item.Snippet.Title,
			ChannelID:    item.Snippet.ChannelID,
			ChannelTitle: item.Snippet.ChannelTitle,
			Description:  item.Snippet.Description,
			Thumbnail:    item.Snippet.Thumbnails.Default.URL,
			PublishedAt:  item.Snippet.PublishedAt,
		})
	}
	return videos
}

// Search responses nest the id as {"videoId": ...}; list responses use a
// plain string.
func videoID(raw json.RawMessage) string {
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var nested struct {
		VideoID string `json:"videoId"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		return nested.VideoID
	}
	return ""
}

const spotifyBaseURL = "https://api.spotify.com/v1"

type SpotifyClient struct {
	token   string
	baseURL string
	http    *http.Client
}

func NewSpotifyClient(token string, timeout time.Duration) *SpotifyClient {
	return &SpotifyClient{
		token:   token,
		baseURL: spotifyBaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type spotifyTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
}

func (c *SpotifyClient) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	params := url.Values{
		"q":     {query},
		"type":  {"track"},
		"limit": {strconv.Itoa(limit)},
	}

	var parsed struct {
		Tracks struct {
			Items []spotifyTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := c.call(ctx, "/search", params, &parsed); err != nil {
		return nil, err
	}
	return tracks(parsed.Tracks.Items), nil
}

func (c *SpotifyClient) Recommendations(ctx context.Context, seed string, limit int) ([]Track, error) {
	params := url.Values{
		"seed_tracks": {seed},
		"limit":       {strconv.Itoa(limit)},
	}

	var parsed struct {
		Tracks []spotifyTrack `json:"tracks"`
	}
	if err := c.call(ctx, "/recommendations", params, &parsed); err != nil {
		return nil, err
	}
	return tracks(parsed.Tracks), nil
}

func (c *SpotifyClient) call(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WithMessage(err, "spotify request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("spotify returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.WithMessage(err, "decode spotify response")
	}
	return nil
}

func tracks(items []spotifyTrack) []Track {
	result := make([]Track, 0, len(items))
	for _, item := range items {
		track := Track{ID: item.ID, Title: item.Name, Album: item.Album.Name}
		if len(item.Artists) > 0 {
			track.Artist = item.Artists[0].Name
		}
		result = append(result, track)
	}
	return result
}
