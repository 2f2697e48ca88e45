package handlers

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wtsi-hgi/irobot/internal/logger"
	"github.com/wtsi-hgi/irobot/pkg/api"
	"github.com/wtsi-hgi/irobot/pkg/precache/checksum"
	"github.com/wtsi-hgi/irobot/pkg/precache/eta"
	"github.com/wtsi-hgi/irobot/pkg/precache/manager"
	"github.com/wtsi-hgi/irobot/pkg/precache/model"

	"github.com/go-chi/chi/v5"
)

const metadataMediaType = "application/vnd.irobot.metadata+json"

// representation identifies which of the three GET/HEAD representations a
// request's Accept header selected.
type representation int

const (
	representationData representation = iota
	representationMetadata
	representationETA
)

// DataHandler implements the Request Workflow: GET/HEAD/POST/DELETE on a
// data object, keyed by its upstream path as the request's URL path.
type DataHandler struct {
	manager *manager.Manager
}

// NewDataHandler creates a DataHandler bound to mgr.
func NewDataHandler(mgr *manager.Manager) *DataHandler {
	return &DataHandler{manager: mgr}
}

// Get serves GET and HEAD requests. It never blocks for an in-flight
// fetch: admission is opened (triggering a fetch if necessary) and the
// slot's current status is checked immediately. A Finished slot is
// served; anything else responds 202 Accepted with an iRobot-ETA header
// when an estimate is available, per the non-blocking request workflow.
func (h *DataHandler) Get(w http.ResponseWriter, r *http.Request) {
	upstreamPath := r.URL.Path
	ctx := r.Context()

	rep, ok := negotiateRepresentation(r.Header.Get("Accept"))
	if !ok {
		writeError(w, model.NewUnacceptableError(upstreamPath))
		return
	}
	dt := model.DatatypeData
	if rep == representationMetadata {
		dt = model.DatatypeMetadata
	}

	if noCache(r) {
		if err := h.manager.Reset(ctx, upstreamPath); err != nil {
			writeError(w, err)
			return
		}
	}

	e, err := h.manager.Open(ctx, upstreamPath, dt)
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = h.manager.Release(context.Background(), upstreamPath) }()

	status, err := h.manager.DatatypeStatus(ctx, upstreamPath, dt)
	if err != nil {
		writeError(w, err)
		return
	}

	if rep == representationETA {
		h.respondWithETA(w, upstreamPath, status)
		return
	}

	switch status {
	case model.StatusFinished:
		h.serveFinished(w, r, e, dt)
	case model.StatusFailed:
		writeError(w, model.NewUpstreamError(upstreamPath, fmt.Errorf("last fetch attempt for %s did not succeed", dt)))
	default:
		h.respondAccepted(w, upstreamPath)
	}
}

// respondAccepted answers a not-yet-finished GET/HEAD with 202 and, when
// available, an iRobot-ETA header estimating completion.
func (h *DataHandler) respondAccepted(w http.ResponseWriter, upstreamPath string) {
	if estimate, ok, err := h.manager.ETA(context.Background(), upstreamPath); err == nil && ok {
		w.Header().Set("iRobot-ETA", estimate.Header())
	}
	w.Header().Set("Content-Type", eta.MediaType)
	w.WriteHeader(http.StatusAccepted)
}

// respondWithETA answers an explicit Accept: application/vnd.irobot.eta
// request: an empty body carrying only the iRobot-ETA header, 200 if the
// slot is already finished (nothing left to wait for) or 202 otherwise.
func (h *DataHandler) respondWithETA(w http.ResponseWriter, upstreamPath string, status model.Status) {
	code := http.StatusAccepted
	if status == model.StatusFinished {
		code = http.StatusOK
	}
	if estimate, ok, err := h.manager.ETA(context.Background(), upstreamPath); err == nil && ok {
		w.Header().Set("iRobot-ETA", estimate.Header())
	}
	w.Header().Set("Content-Type", eta.MediaType)
	w.WriteHeader(code)
}

func noCache(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Cache-Control"), "no-cache")
}

// negotiateRepresentation picks one of the three known representations
// from an Accept header, defaulting to the data octet-stream when the
// header is absent or "*/*". ok is false when the header names none of
// them, which the caller turns into a 406.
func negotiateRepresentation(accept string) (representation, bool) {
	switch {
	case accept == "", strings.Contains(accept, "*/*"), strings.Contains(accept, "application/octet-stream"):
		return representationData, true
	case strings.Contains(accept, metadataMediaType):
		return representationMetadata, true
	case strings.Contains(accept, eta.MediaType):
		return representationETA, true
	default:
		return representationData, false
	}
}

// Post triggers admission: a brand new entity is tracked for the first
// time (201 Created), an existing idle entity has its fetch reset and
// restarted (202 Accepted, with an iRobot-ETA header when available), and
// an existing entity with open readers/fetches in flight is rejected as
// contended (409 InUse).
func (h *DataHandler) Post(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	upstreamPath := r.URL.Path

	existing, err := h.manager.Manifest(ctx, upstreamPath)
	isNew := false
	switch {
	case err != nil:
		pe, ok := model.AsPrecacheError(err)
		if !ok || pe.Code != model.ErrNotFound {
			writeError(w, err)
			return
		}
		isNew = true
	case existing.Contention > 0:
		writeError(w, model.NewInUseError(upstreamPath))
		return
	default:
		if err := h.manager.Reset(ctx, upstreamPath); err != nil {
			writeError(w, err)
			return
		}
	}

	if _, err := h.manager.Open(ctx, upstreamPath, model.DatatypeData); err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = h.manager.Release(context.Background(), upstreamPath) }()

	status := http.StatusAccepted
	if isNew {
		status = http.StatusCreated
	}
	if estimate, ok, err := h.manager.ETA(context.Background(), upstreamPath); err == nil && ok {
		w.Header().Set("iRobot-ETA", estimate.Header())
	}
	api.JSON(w, status, api.OKResponse(map[string]string{"upstream_path": upstreamPath}))
}

// Delete evicts upstreamPath from the precache. Responds 204 on success,
// 409 if the entity is currently held, 404 if it was never tracked.
func (h *DataHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), r.URL.Path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Manifest serves GET /manifest/<upstream-path>: the per-datatype state
// of a tracked entity.
func (h *DataHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	upstreamPath := "/" + chi.URLParam(r, "*")
	e, err := h.manager.Manifest(r.Context(), upstreamPath)
	if err != nil {
		writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, api.OKResponse(manifestView(e)))
}

type slotView struct {
	Status    string    `json:"status"`
	Size      uint64    `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

type manifestResponse struct {
	UpstreamPath string    `json:"upstream_path"`
	Data         slotView  `json:"data"`
	Metadata     slotView  `json:"metadata"`
	Checksums    slotView  `json:"checksums"`
	Checksum     string    `json:"checksum,omitempty"`
	LastAccess   time.Time `json:"last_access"`
	Contention   int       `json:"contention"`
}

func manifestView(e *model.Entity) manifestResponse {
	view := func(s model.DatatypeSlot) slotView {
		return slotView{Status: s.Status.String(), Size: s.Size, UpdatedAt: s.UpdatedAt}
	}
	return manifestResponse{
		UpstreamPath: e.UpstreamPath,
		Data:         view(e.Data),
		Metadata:     view(e.Metadata),
		Checksums:    view(e.Checksums),
		Checksum:     e.Checksum,
		LastAccess:   e.LastAccess,
		Contention:   e.Contention,
	}
}

func wantsMetadata(accept string) bool {
	return strings.Contains(accept, metadataMediaType)
}

// serveFinished serves a fully-materialised slot: the metadata
// representation as JSON, or the data representation as an octet stream,
// honoring Range and If-None-Match.
func (h *DataHandler) serveFinished(w http.ResponseWriter, r *http.Request, e *model.Entity, dt model.Datatype) {
	dir := h.manager.EntityDir(e)

	switch dt {
	case model.DatatypeMetadata:
		serveFile(w, r, filepath.Join(dir, "metadata.json"), metadataMediaType, weakETag(e, dt))
	default:
		h.serveData(w, r, e, dir)
	}
}

func weakETag(e *model.Entity, dt model.Datatype) string {
	if dt == model.DatatypeData && e.Checksum != "" {
		return `"` + e.Checksum + `"`
	}
	slot := e.Slot(dt)
	return fmt.Sprintf(`W/"%s-%d"`, dt, slot.UpdatedAt.UnixNano())
}

func serveFile(w http.ResponseWriter, r *http.Request, path, contentType, etag string) {
	f, err := os.Open(path)
	if err != nil {
		writeError(w, model.NewUpstreamError(r.URL.Path, err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, model.NewUpstreamError(r.URL.Path, err))
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", contentType)
	if ifNoneMatchHits(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func ifNoneMatchHits(r *http.Request, etag string) bool {
	inm := r.Header.Get("If-None-Match")
	if inm == "" {
		return false
	}
	for _, candidate := range strings.Split(inm, ",") {
		if strings.TrimSpace(candidate) == etag || strings.TrimSpace(candidate) == "*" {
			return true
		}
	}
	return false
}

// serveData serves the data slot, aligning Range responses to the
// checksum sidecar's chunk boundaries when the checksums slot has
// finished, so each part carries a verifiable per-block MD5 as its ETag.
func (h *DataHandler) serveData(w http.ResponseWriter, r *http.Request, e *model.Entity, dir string) {
	path := filepath.Join(dir, "data")
	etag := weakETag(e, model.DatatypeData)

	f, err := os.Open(path)
	if err != nil {
		writeError(w, model.NewUpstreamError(e.UpstreamPath, err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, model.NewUpstreamError(e.UpstreamPath, err))
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Accept-Ranges", "bytes")
	if ifNoneMatchHits(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
		return
	}

	ranges, err := parseRanges(rangeHeader, info.Size())
	if err != nil {
		writeError(w, model.NewBadRangeError(e.UpstreamPath))
		return
	}

	var table checksum.Table
	if e.Checksums.Status == model.StatusFinished {
		if t, err := checksum.ReadSidecar(filepath.Join(dir, "data.checksums")); err == nil {
			table = t
			ranges = alignRangesToChunks(ranges, table, info.Size())
		}
	}

	if len(ranges) == 1 {
		serveSingleRange(w, f, ranges[0], info.Size())
		return
	}
	serveMultipartRanges(w, f, ranges, table, info.Size())
}

type httpRange struct {
	start, length int64
}

// parseRanges parses an RFC 7233 "bytes=a-b,c-d" Range header against a
// resource of the given size.
func parseRanges(header string, size int64) ([]httpRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, fmt.Errorf("unsupported range unit")
	}
	var ranges []httpRange
	for _, part := range strings.Split(header[len(prefix):], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dash := strings.IndexByte(part, '-')
		if dash < 0 {
			return nil, fmt.Errorf("malformed range %q", part)
		}
		startStr, endStr := strings.TrimSpace(part[:dash]), strings.TrimSpace(part[dash+1:])

		var start, length int64
		switch {
		case startStr == "":
			// suffix range: last N bytes
			n, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("malformed suffix range %q", part)
			}
			if n > size {
				n = size
			}
			start = size - n
			length = n
		default:
			s, err := strconv.ParseInt(startStr, 10, 64)
			if err != nil || s >= size {
				return nil, fmt.Errorf("range start out of bounds %q", part)
			}
			start = s
			if endStr == "" {
				length = size - start
			} else {
				e, err := strconv.ParseInt(endStr, 10, 64)
				if err != nil || e < start {
					return nil, fmt.Errorf("malformed range end %q", part)
				}
				if e >= size {
					e = size - 1
				}
				length = e - start + 1
			}
		}
		ranges = append(ranges, httpRange{start: start, length: length})
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("no satisfiable ranges")
	}
	return ranges, nil
}

// alignRangesToChunks widens each requested range outward to the nearest
// enclosing checksum-chunk boundaries, so each resulting part corresponds
// to one or more whole chunks with a known per-block MD5.
func alignRangesToChunks(ranges []httpRange, table checksum.Table, size int64) []httpRange {
	if table.ChunkSize <= 0 {
		return ranges
	}
	aligned := make([]httpRange, 0, len(ranges))
	for _, rg := range ranges {
		start := (rg.start / table.ChunkSize) * table.ChunkSize
		end := rg.start + rg.length // exclusive
		end = ((end + table.ChunkSize - 1) / table.ChunkSize) * table.ChunkSize
		if end > size {
			end = size
		}
		aligned = append(aligned, httpRange{start: start, length: end - start})
	}
	sort.Slice(aligned, func(i, j int) bool { return aligned[i].start < aligned[j].start })
	return aligned
}

func serveSingleRange(w http.ResponseWriter, f *os.File, rg httpRange, size int64) {
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rg.start, rg.start+rg.length-1, size))
	w.Header().Set("Content-Length", strconv.FormatInt(rg.length, 10))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusPartialContent)

	if _, err := f.Seek(rg.start, 0); err != nil {
		logger.Warn("irobot range seek failed", logger.Err(err))
		return
	}
	if _, err := copyN(w, f, rg.length); err != nil {
		logger.Warn("irobot range copy failed", logger.Err(err))
	}
}

func serveMultipartRanges(w http.ResponseWriter, f *os.File, ranges []httpRange, table checksum.Table, size int64) {
	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/byteranges; boundary="+mw.Boundary())
	w.WriteHeader(http.StatusPartialContent)

	for _, rg := range ranges {
		header := make(map[string][]string)
		header["Content-Type"] = []string{"application/octet-stream"}
		header["Content-Range"] = []string{fmt.Sprintf("bytes %d-%d/%d", rg.start, rg.start+rg.length-1, size)}
		if blockETag := etagForBlock(table, rg); blockETag != "" {
			header["ETag"] = []string{blockETag}
		}

		pw, err := mw.CreatePart(header)
		if err != nil {
			logger.Warn("irobot multipart range create part failed", logger.Err(err))
			return
		}
		if _, err := f.Seek(rg.start, 0); err != nil {
			logger.Warn("irobot range seek failed", logger.Err(err))
			return
		}
		if _, err := copyN(pw, f, rg.length); err != nil {
			logger.Warn("irobot range copy failed", logger.Err(err))
			return
		}
	}
	_ = mw.Close()
}

// etagForBlock returns the checksum-sidecar MD5 for the single block a
// range exactly covers, or "" if the range spans more than one block.
func etagForBlock(table checksum.Table, rg httpRange) string {
	for _, b := range table.Blocks {
		if b.Offset == rg.start && b.Length == rg.length {
			return `"` + b.MD5 + `"`
		}
	}
	return ""
}

func copyN(w http.ResponseWriter, f *os.File, n int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for written < n {
		toRead := int64(len(buf))
		if remaining := n - written; remaining < toRead {
			toRead = remaining
		}
		rn, err := f.Read(buf[:toRead])
		if rn > 0 {
			wn, werr := w.Write(buf[:rn])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
