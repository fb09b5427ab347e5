// Package web embeds the watch server's dashboard page.
//
// dist/ is embedded at build time. A dist directory on disk takes
// precedence so the page can be edited without rebuilding.
package web

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed dist/*
var assets embed.FS

// GetAssets returns the dashboard files. If devPath (default "./web/dist")
// is a directory on disk it is served live; otherwise the embedded copy is
// used.
func GetAssets(devPath string) fs.FS {
	if devPath == "" {
		devPath = "./web/dist"
	}

	if stat, err := os.Stat(devPath); err == nil && stat.IsDir() {
		return os.DirFS(devPath)
	}

	subFS, err := fs.Sub(assets, "dist")
	if err != nil {
		panic("failed to access embedded web assets: " + err.Error())
	}
	return subFS
}

// GetAssetsWithBase looks for a live dist directory under baseDir/web.
func GetAssetsWithBase(baseDir string) fs.FS {
	return GetAssets(filepath.Join(baseDir, "web", "dist"))
}
