package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/storeops/bulkops/internal/core"
	"github.com/storeops/bulkops/internal/remote"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Product media",
}

var imagesUploadCmd = &cobra.Command{
	Use:   "upload <uploads.json>",
	Short: "Create product images in bulk",
	Long: `Create product images from a JSON file holding an array of uploads:

  [
    {
      "sku": "TEE-RED-M",
      "product_id": "7001",
      "variant_ids": ["4011"],
      "sources": [{"src": "https://cdn.example.com/tee-red.jpg", "alt": "Red tee"}]
    }
  ]

A source may name a local file with "file" instead of "src"; its
contents are uploaded as an attachment. Relative paths are resolved
against the directory of the uploads file.`,
	Args: cobra.ExactArgs(1),
	Run:  runImagesUpload,
}

var imagesJSON bool

func init() {
	imagesCmd.AddCommand(imagesUploadCmd)
	imagesUploadCmd.Flags().BoolVar(&imagesJSON, "json", false, "Print the result as JSON")
}

// uploadFile is the on-disk form of an upload. Sources may reference local
// files, which are read into attachments before the batch starts.
type uploadFile struct {
	core.ImageUpload
	Sources []*uploadSource `json:"sources"`
}

type uploadSource struct {
	Src        string   `json:"src,omitempty"`
	File       string   `json:"file,omitempty"`
	Alt        string   `json:"alt,omitempty"`
	VariantIDs []string `json:"variant_ids,omitempty"`
}

// loadUploads reads an uploads file and resolves local file sources.
func loadUploads(path string) ([]*core.ImageUpload, error) {
	var files []*uploadFile
	if err := readJSONInput(path, &files); err != nil {
		return nil, err
	}

	base := "."
	if path != "-" {
		base = filepath.Dir(path)
	}

	uploads := make([]*core.ImageUpload, 0, len(files))
	for i, f := range files {
		u := f.ImageUpload
		u.Sources = nil
		for _, s := range f.Sources {
			src, err := s.resolve(base)
			if err != nil {
				return nil, fmt.Errorf("upload %d: %w", i, err)
			}
			u.Sources = append(u.Sources, src)
		}
		uploads = append(uploads, &u)
	}
	return uploads, nil
}

func (s *uploadSource) resolve(base string) (*remote.ImageSource, error) {
	switch {
	case s.Src != "" && s.File != "":
		return nil, fmt.Errorf("source sets both src and file")
	case s.File != "":
		p := s.File
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		return &remote.ImageSource{
			Attachment: data,
			Filename:   filepath.Base(p),
			Alt:        s.Alt,
			VariantIDs: s.VariantIDs,
		}, nil
	}
	return &remote.ImageSource{Src: s.Src, Alt: s.Alt, VariantIDs: s.VariantIDs}, nil
}

func runImagesUpload(cmd *cobra.Command, args []string) {
	uploads, err := loadUploads(args[0])
	if err != nil {
		exitError("%v", err)
	}

	c := initFullContext()
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	obs := progressObserver(os.Stderr)
	if imagesJSON {
		obs = nil
	}
	out, err := c.Service.UploadImages(ctx, uploads, obs)
	if err != nil {
		exitError("%s", describeError(err))
	}
	if imagesJSON {
		printJSON(out)
		return
	}
	printBatchOutcome(out)
}
