package update

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"

	goversion "github.com/hashicorp/go-version"
	jsoniter "github.com/json-iterator/go"

	"github.com/sidkik/syncotter/pkg/errors"
)

// ManifestURLKey is the environment variable that overrides where releases
// are looked up.
const ManifestURLKey = "SYNCOTTER_UPDATE_MANIFEST"

// DefaultManifestURL is where the latest release is published.
const DefaultManifestURL = "https://releases.syncotter.dev/latest.json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Mocked out for unit testing.
var httpClient = http.DefaultClient

// Manifest describes the latest release.
type Manifest struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	Notes   string `json:"notes,omitempty"`
}

// Check fetches the release manifest at `manifestURL` and returns whether
// it's newer than `current`. Prereleases are never offered as updates.
func Check(ctx context.Context, manifestURL, current string) (Manifest, bool, error) {
	currentVersion, err := goversion.NewVersion(current)
	if err != nil {
		return Manifest{}, false, errors.WithContext(err, "parse current version")
	}

	manifest, err := getManifest(ctx, manifestURL)
	if err != nil {
		return Manifest{}, false, errors.WithContext(err, "get manifest")
	}

	latestVersion, err := goversion.NewVersion(manifest.Version)
	if err != nil {
		return Manifest{}, false, errors.WithContext(err, "parse latest version")
	}

	if latestVersion.Prerelease() != "" {
		return manifest, false, nil
	}

	// Compare against the stable part of the current version, so that
	// development builds of a release are offered that release.
	segments := currentVersion.Segments()
	stable, err := goversion.NewVersion(fmt.Sprintf("%d.%d.%d",
		segments[0], segments[1], segments[2]))
	if err != nil {
		return Manifest{}, false, errors.WithContext(err, "parse stable version")
	}

	newer := currentVersion.LessThan(latestVersion)
	if currentVersion.Prerelease() != "" && stable.Equal(latestVersion) {
		newer = true
	}
	return manifest, newer, nil
}

func getManifest(ctx context.Context, url string) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return Manifest{}, errors.WithContext(err, "new request")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return Manifest{}, errors.WithContext(err, "get")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Manifest{}, fmt.Errorf("server responded with %s", resp.Status)
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return Manifest{}, errors.WithContext(err, "read")
	}

	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return Manifest{}, errors.WithContext(err, "unmarshal")
	}

	if manifest.Version == "" {
		return Manifest{}, errors.MissingFieldError{Field: "version"}
	}
	return manifest, nil
}
