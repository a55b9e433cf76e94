package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/codetreehq/codetree/internal/selfupdate"
)

// newCommand wraps exec.Command for testability.
var newCommand = exec.Command

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "download and install the latest release",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "check for updates without installing"},
		},
		Action: runUpdate,
	}
}

func runUpdate(c *cli.Context) error {
	out := c.App.Writer
	currentVersion := strings.TrimSuffix(version, "-dev")
	fmt.Fprintf(out, "\ncodetree %s — checking for updates...\n", version)

	if runtime.GOOS == "windows" {
		fmt.Fprintln(out, "Self-update is not supported on Windows.")
		fmt.Fprintln(out, "Download the latest release manually from:")
		fmt.Fprintln(out, "  https://github.com/codetreehq/codetree/releases/latest")
		return fmt.Errorf("unsupported platform")
	}

	ctx := c.Context

	release, err := selfupdate.FetchLatestRelease(ctx)
	if err != nil {
		return fmt.Errorf("fetch release: %w", err)
	}

	latest := release.LatestVersion()
	if latest == "" {
		return fmt.Errorf("could not determine latest version")
	}

	if selfupdate.CompareVersions(latest, currentVersion) <= 0 {
		fmt.Fprintf(out, "Already up to date (v%s).\n", currentVersion)
		return nil
	}

	fmt.Fprintf(out, "Update available: v%s → v%s\n", currentVersion, latest)

	assetName := selfupdate.AssetName()
	asset := release.FindAsset(assetName)
	if asset == nil {
		return fmt.Errorf("no release asset for %s/%s (%s)", runtime.GOOS, runtime.GOARCH, assetName)
	}

	if c.Bool("dry-run") {
		fmt.Fprintf(out, "[dry-run] Would download: %s (%d bytes)\n", assetName, asset.Size)
		fmt.Fprintln(out, "[dry-run] Would replace binary and re-run install.")
		return nil
	}

	binaryData, err := downloadAndVerify(ctx, out, release, assetName, asset)
	if err != nil {
		return err
	}

	if err := replaceBinary(out, binaryData); err != nil {
		return err
	}

	fmt.Fprintln(out, "Re-applying installation...")
	if err := doInstall(installConfig{out: out}); err != nil {
		fmt.Fprintf(out, "  ⚠ re-install: %v\n", err)
	}

	fmt.Fprintf(out, "\nUpdated to v%s. Restart Claude Code / Codex to activate.\n", latest)
	return nil
}

// downloadAndVerify downloads the release asset and verifies its checksum.
func downloadAndVerify(ctx context.Context, out io.Writer, release *selfupdate.Release, assetName string, asset *selfupdate.Asset) ([]byte, error) {
	fmt.Fprintln(out, "Downloading checksums...")
	checksums, err := selfupdate.DownloadChecksums(ctx, release)
	if err != nil {
		fmt.Fprintf(out, "warning: %v (skipping checksum verification)\n", err)
		checksums = nil
	}

	fmt.Fprintf(out, "Downloading %s...\n", assetName)
	body, _, err := selfupdate.DownloadAsset(ctx, asset.BrowserDownloadURL)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	tarballData, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("read download: %w", err)
	}

	if checksums != nil {
		if expected, ok := checksums[assetName]; ok {
			hash := sha256.Sum256(tarballData)
			actual := hex.EncodeToString(hash[:])
			if actual != expected {
				return nil, fmt.Errorf("checksum mismatch\n  expected: %s\n  actual:   %s", expected, actual)
			}
			fmt.Fprintln(out, "Checksum verified.")
		}
	}

	binaryData, err := extractBinaryFromTarGz(tarballData)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	return binaryData, nil
}

// replaceBinary atomically swaps the current binary with the new one.
func replaceBinary(out io.Writer, binaryData []byte) error {
	binaryPath, err := detectBinaryPath()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Replacing binary at %s...\n", binaryPath)

	tmpPath := binaryPath + ".tmp"
	if err := os.WriteFile(tmpPath, binaryData, 0o600); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o500); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}

	bakPath := binaryPath + ".bak"
	if cpErr := copyFile(binaryPath, bakPath); cpErr != nil {
		fmt.Fprintf(out, "warning: backup failed: %v\n", cpErr)
	}

	if err := os.Rename(tmpPath, binaryPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}

	if err := verifyBinary(binaryPath); err != nil {
		fmt.Fprintln(out, "Restoring previous version...")
		if restoreErr := os.Rename(bakPath, binaryPath); restoreErr != nil {
			return fmt.Errorf("restore failed (%v), backup at: %s", restoreErr, bakPath)
		}
		fmt.Fprintln(out, "Previous version restored.")
		return fmt.Errorf("new binary verification failed: %w", err)
	}

	os.Remove(bakPath)
	return nil
}

// extractBinaryFromTarGz extracts the first regular file from a .tar.gz archive.
func extractBinaryFromTarGz(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg && strings.HasPrefix(filepath.Base(hdr.Name), "codetree") {
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read entry: %w", err)
			}
			return content, nil
		}
	}
	return nil, fmt.Errorf("binary not found in archive")
}

// verifyBinary runs --version on the new binary to ensure it works.
func verifyBinary(path string) error {
	cmd := newCommand(path, "--version")
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("--version failed: %w", err)
	}
	output := strings.TrimSpace(string(out))
	if !strings.Contains(output, "codetree") {
		return fmt.Errorf("unexpected output: %s", output)
	}
	return nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
