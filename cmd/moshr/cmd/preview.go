package cmd

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	_ "golang.org/x/image/webp"

	"github.com/jmylchreest/moshr/internal/native"
	"github.com/jmylchreest/moshr/internal/preview"
	"github.com/jmylchreest/moshr/internal/workerd/pixfx"
)

var previewCmd = &cobra.Command{
	Use:   "preview <frame>",
	Short: "Apply a per-frame effect to a still image",
	Long: `Apply a per-frame effect to a PNG, JPEG or WebP still using the native
worker and write the result as PNG.

Example:
  moshr preview frame.png -e pixelsort -p threshold=0.4 -o sorted.png`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)

	f := previewCmd.Flags()
	f.StringP("effect", "e", "", "per-frame effect name (required)")
	f.StringToStringP("param", "p", nil, "effect parameter as name=value (repeatable)")
	f.StringP("output", "o", "", "write the rendered PNG here instead of the preview folder")
	f.String("slot", "cli", "preview slot name")
	_ = previewCmd.MarkFlagRequired("effect")
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	frame, err := decodeFrame(args[0])
	if err != nil {
		return err
	}

	f := cmd.Flags()
	effect, _ := f.GetString("effect")
	slot, _ := f.GetString("slot")
	output, _ := f.GetString("output")
	raw, _ := f.GetStringToString("param")
	params := make(map[string]float64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("param %s: %q is not a number", k, v)
		}
		params[k] = n
	}

	ctx := cmd.Context()
	a := newApp(ctx, cfg, false)
	defer a.close()

	client, err := a.startWorker(ctx)
	if err != nil {
		return fmt.Errorf("preview needs the native worker: %w", err)
	}
	slots := preview.NewSlots(native.NewUploader(client, int(cfg.Worker.ChunkSize.Bytes()), a.logger), a.logger)

	res, err := slots.Render(ctx, preview.Request{Slot: slot, Frame: frame, Effect: effect, Params: params})
	if err != nil {
		return err
	}

	if output == "" {
		fmt.Println(res.Path)
		return nil
	}
	if err := copyFile(res.Path, output); err != nil {
		return err
	}
	fmt.Println(output)
	return nil
}

func decodeFrame(path string) (native.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return native.Frame{}, err
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return native.Frame{}, fmt.Errorf("%s: not a PNG, JPEG or WebP image", path)
		}
		return native.Frame{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	rgba := pixfx.ToRGBA(img)
	b := rgba.Bounds()
	if b.Empty() {
		return native.Frame{}, fmt.Errorf("%s: empty %s image", path, format)
	}
	return native.Frame{Width: b.Dx(), Height: b.Dy(), Pix: rgba.Pix}, nil
}

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
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
