package tutorials

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidVideoURL is returned for a videoUrl that doesn't point at a YouTube video.
var ErrInvalidVideoURL = errors.New("invalid video url")

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractYouTubeID returns the 11-character video id of a YouTube link.
// Accepted forms: youtube.com/watch?v=ID, youtu.be/ID, youtube.com/embed/ID,
// youtube.com/shorts/ID and youtube.com/live/ID, with or without www. or m.
func ExtractYouTubeID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidVideoURL
	}
	host := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."), "m.")
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch host {
	case "youtu.be":
		if len(segs) == 1 {
			id = segs[0]
		}
	case "youtube.com", "youtube-nocookie.com":
		switch {
		case len(segs) == 1 && segs[0] == "watch":
			id = u.Query().Get("v")
		case len(segs) == 2 && (segs[0] == "embed" || segs[0] == "shorts" || segs[0] == "live"):
			id = segs[1]
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", ErrInvalidVideoURL
	}
	return id, nil
}

// CanonicalVideoURL returns the watch URL stored for a video id.
func CanonicalVideoURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
