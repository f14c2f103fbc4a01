package clips

import (
	"html/template"
	"strings"

	"github.com/hbomb79/Vidra/internal/clip"
)

var landingPageTemplate = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>{{ .Title }}</title>
</head>
<body>
	<h1>{{ .Title }}</h1>
	<p>{{ .Description }}</p>
	<video controls src="/api/vidra/v1/clips/{{ .ClipID }}/media/"></video>
	<audio controls src="/api/vidra/v1/audio/{{ .AudioID }}/"></audio>
	<p>
		<a href="/api/vidra/v1/clips/{{ .ClipID }}/media/" download>Download video</a>
		<a href="/api/vidra/v1/audio/{{ .AudioID }}/" download>Download audio</a>
	</p>
</body>
</html>`))

type landingPageData struct {
	Title       string
	Description string
	ClipID      string
	AudioID     string
}

func renderLandingPage(record *clip.Record, audioID string) (string, error) {
	title := record.Metadata.Author.Nickname
	if title == "" {
		title = record.ID
	}

	var rendered strings.Builder
	err := landingPageTemplate.Execute(&rendered, landingPageData{
		Title:       title,
		Description: record.Metadata.Description,
		ClipID:      record.ID,
		AudioID:     audioID,
	})
	if err != nil {
		return "", err
	}

	return rendered.String(), nil
}
