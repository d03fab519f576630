package registry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/pkg/utils"
)

const metaHeader = "id\tfio"

func writeMeta(path string, identities []models.Identity) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		if _, err := fmt.Fprintln(w, metaHeader); err != nil {
			return err
		}
		for _, id := range identities {
			if _, err := fmt.Fprintf(w, "%d\t%s\n", id.ID, id.Name); err != nil {
				return err
			}
		}
		return nil
	})
}

// readMeta parses the sidecar. IDs must be 0..n-1 in order.
func readMeta(path string) ([]models.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrPersistence, err, "open voice sidecar")
	}
	defer f.Close()

	var identities []models.Identity
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" || (line == 1 && text == metaHeader) {
			continue
		}
		idStr, name, ok := strings.Cut(text, "\t")
		if !ok {
			return nil, apperr.New(apperr.ErrPersistence, "%s:%d: expected id<TAB>name", path, line)
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, apperr.New(apperr.ErrPersistence, "%s:%d: bad id %q", path, line, idStr)
		}
		if id != len(identities) {
			return nil, apperr.New(apperr.ErrPersistence, "%s:%d: id %d out of sequence, expected %d", path, line, id, len(identities))
		}
		identities = append(identities, models.Identity{ID: models.IdentityID(id), Name: name})
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ErrPersistence, err, "read voice sidecar")
	}
	return identities, nil
}
