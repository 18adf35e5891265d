package fallback

import (
	"fmt"

	"github.com/slok/repoready/internal/model"
)

const (
	stackBlitzBase = "https://stackblitz.com/github"
	replitBase     = "https://replit.com/github"
	sourceBase     = "https://github.com"
)

// Links returns the external environments where the repository can be opened.
func Links(ref model.RepositoryRef) model.FallbackLinks {
	return model.FallbackLinks{
		StackBlitz: fmt.Sprintf("%s/%s/%s", stackBlitzBase, ref.Owner, ref.Name),
		Replit:     fmt.Sprintf("%s/%s/%s", replitBase, ref.Owner, ref.Name),
		Source:     fmt.Sprintf("%s/%s/%s", sourceBase, ref.Owner, ref.Name),
	}
}

// LinksFromURL returns the fallback links of a repository URL. It never fails, malformed
// URLs use placeholder identifiers. The source link is the original URL when it can be parsed.
func LinksFromURL(repoURL string) model.FallbackLinks {
	ref, err := model.ParseRepositoryURL(repoURL)
	if err != nil {
		return Links(model.UnknownRepository)
	}

	links := Links(ref)
	links.Source = model.NormalizeRepositoryURL(repoURL)
	return links
}
