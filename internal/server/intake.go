package server

import (
    "fmt"
    "io"
    "mime/multipart"
    "os"
    "path/filepath"
    "strings"

    "github.com/local/pagesort/internal/builder"
    "github.com/local/pagesort/internal/imagefile"
    "github.com/local/pagesort/internal/metrics"
)

// ReasonIntake marks uploads rejected before decoding.
const ReasonIntake = "intake"

// sniffLen is how much of each upload is inspected for magic bytes.
const sniffLen = 3072

// saveUploads writes the accepted parts into dir and reports the rejected ones.
func saveUploads(files []*multipart.FileHeader, dir string) (saved int, skipped []builder.ItemResult) {
    used := map[string]bool{}
    reject := func(name, msg string) {
        metrics.IncSkipped(ReasonIntake)
        skipped = append(skipped, builder.ItemResult{Name: name, Status: builder.StatusSkipped, Reason: ReasonIntake, Error: msg})
    }
    for _, fh := range files {
        name := sanitizeName(fh.Filename)
        switch {
        case name == "":
            reject(fh.Filename, "invalid file name")
            continue
        case !imagefile.HasImageExt(name):
            reject(name, "unsupported extension")
            continue
        }
        name = uniqueName(name, used)
        if err := saveOne(fh, filepath.Join(dir, name)); err != nil {
            reject(name, err.Error())
            continue
        }
        used[strings.ToLower(name)] = true
        saved++
    }
    return saved, skipped
}

func saveOne(fh *multipart.FileHeader, dest string) error {
    src, err := fh.Open()
    if err != nil { return fmt.Errorf("open upload: %w", err) }
    defer src.Close()
    return storeUpload(src, dest)
}

// storeUpload sniffs the head of src and copies the whole stream to dest.
// A failed copy leaves nothing behind at dest.
func storeUpload(src io.Reader, dest string) error {
    head := make([]byte, sniffLen)
    n, err := io.ReadFull(src, head)
    if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
        return fmt.Errorf("read upload: %w", err)
    }
    head = head[:n]
    if _, ok := imagefile.Sniff(head); !ok {
        return fmt.Errorf("content is not a png or jpeg image")
    }

    out, err := os.Create(dest)
    if err != nil { return fmt.Errorf("save upload: %w", err) }
    _, err = out.Write(head)
    if err == nil { _, err = io.Copy(out, src) }
    if cerr := out.Close(); err == nil { err = cerr }
    if err != nil {
        _ = os.Remove(dest)
        return fmt.Errorf("save upload: %w", err)
    }
    return nil
}

// sanitizeName strips any client path and rejects names that would be hidden or empty.
func sanitizeName(raw string) string {
    name := filepath.Base(strings.ReplaceAll(raw, "\\", "/"))
    if name == "." || name == "/" || name == "" || strings.HasPrefix(name, ".") {
        return ""
    }
    return name
}

// uniqueName appends -1, -2, ... before the extension until the name is unused.
// Comparison is case-insensitive so the result is safe on any filesystem.
func uniqueName(name string, used map[string]bool) string {
    if !used[strings.ToLower(name)] { return name }
    ext := filepath.Ext(name)
    stem := strings.TrimSuffix(name, ext)
    for i := 1; ; i++ {
        cand := fmt.Sprintf("%s-%d%s", stem, i, ext)
        if !used[strings.ToLower(cand)] { return cand }
    }
}
