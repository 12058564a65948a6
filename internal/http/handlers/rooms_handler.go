// Room read API handlers.
//
//   - GET /rooms/{roomID}/scores  (leaderboard, paginated, ETag support)
//   - GET /rooms/{roomID}/emojis  (registered emojis, ETag support)
//
// Both return the same ordering the chat commands use.
package handlers

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/social-credit/internal/domain"
	"github.com/tbourn/social-credit/internal/utils"
)

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

// ScoresResponse is one page of a room leaderboard.
type ScoresResponse struct {
	RoomID     string              `json:"room_id"`
	Scores     []domain.ScoreEntry `json:"scores"`
	Pagination Pagination          `json:"pagination"`
}

// EmojisResponse lists a room's registered emojis.
type EmojisResponse struct {
	RoomID string         `json:"room_id"`
	Emojis []domain.Emoji `json:"emojis"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// roomParam returns the trimmed :roomID, or "" after answering 400.
func roomParam(c *gin.Context) string {
	room := strings.TrimSpace(c.Param("roomID"))
	if room == "" || !strings.HasPrefix(room, "!") {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "roomID must be a room id like !abc:example.org")
		return ""
	}
	return room
}

// weakETag hashes the parts into a weak validator scoped by kind.
func weakETag(kind string, parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf(`W/"%s:%x"`, kind, h.Sum64())
}

// notModified sets ETag and reports whether If-None-Match already matches,
// in which case a 304 has been written.
func notModified(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// GetScores godoc
// @ID          getRoomScores
// @Summary     Room leaderboard
// @Description Members of the room ordered by social credit, highest first.
// @Tags        Rooms
// @Produce     json
//
// @Param       roomID         path    string  true   "Room ID"  example(!abc:example.org)
// @Param       page           query   int     false  "Page number"  minimum(1) default(1)
// @Param       page_size      query   int     false  "Page size"    minimum(1) maximum(200) default(50)
// @Param       If-None-Match  header  string  false  "Weak ETag from a previous response"
//
// @Success     200  {object}  handlers.ScoresResponse  "Leaderboard page"
// @Success     304  "Not modified"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad room id"
// @Failure     429  {object}  handlers.ErrorResponse   "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /rooms/{roomID}/scores [get]
func (h *Handlers) GetScores(c *gin.Context) {
	room := roomParam(c)
	if room == "" {
		return
	}
	page, pageSize := clampPagination(c)

	entries, err := h.scores.Leaderboard(c.Request.Context(), room)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load scores")
		return
	}

	parts := make([]string, 0, len(entries)+2)
	parts = append(parts, room, fmt.Sprintf("%d:%d", page, pageSize))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s:%s=%d", e.Name, e.URL, e.Score))
	}
	if notModified(c, weakETag("scores", parts...)) {
		return
	}

	total := len(entries)
	start, end, totalPages := utils.PageWindow(total, page, pageSize)

	ok(c, http.StatusOK, ScoresResponse{
		RoomID: room,
		Scores: append([]domain.ScoreEntry{}, entries[start:end]...),
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetEmojis godoc
// @ID          getRoomEmojis
// @Summary     List room emojis
// @Description Emojis registered in the room with their score deltas, highest delta first.
// @Tags        Rooms
// @Produce     json
//
// @Param       roomID         path    string  true   "Room ID"  example(!abc:example.org)
// @Param       If-None-Match  header  string  false  "Weak ETag from a previous response"
//
// @Success     200  {object}  handlers.EmojisResponse  "Registered emojis"
// @Success     304  "Not modified"
// @Failure     400  {object}  handlers.ErrorResponse   "Bad room id"
// @Failure     429  {object}  handlers.ErrorResponse   "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /rooms/{roomID}/emojis [get]
func (h *Handlers) GetEmojis(c *gin.Context) {
	room := roomParam(c)
	if room == "" {
		return
	}

	emojis, err := h.emojis.List(c.Request.Context(), room)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load emojis")
		return
	}

	parts := make([]string, 0, len(emojis)+1)
	parts = append(parts, room)
	for _, e := range emojis {
		parts = append(parts, fmt.Sprintf("%s=%d", e.Glyph, e.ScoreDelta))
	}
	if notModified(c, weakETag("emojis", parts...)) {
		return
	}

	ok(c, http.StatusOK, EmojisResponse{RoomID: room, Emojis: append([]domain.Emoji{}, emojis...)})
}
