package integrations

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/chxlky/taskboard/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const trelloBaseURL = "https://api.trello.com/1"

type TrelloClient struct {
	Client   *http.Client
	BaseURL  string
	APIKey   string
	APIToken string
}

func NewTrelloClient(key, token string) *TrelloClient {
	return &TrelloClient{
		Client:   &http.Client{Timeout: 30 * time.Second},
		BaseURL:  trelloBaseURL,
		APIKey:   key,
		APIToken: token,
	}
}

// FetchBoard reads a board with its open lists and cards.
func (tc *TrelloClient) FetchBoard(ctx context.Context, boardID string) (*models.TrelloBoard, error) {
	query := url.Values{}
	query.Set("key", tc.APIKey)
	query.Set("token", tc.APIToken)
	query.Set("lists", "open")
	query.Set("cards", "open")
	query.Set("fields", "name")
	apiURL := fmt.Sprintf("%s/boards/%s?%s", tc.BaseURL, url.PathEscape(boardID), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create get request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := tc.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var board models.TrelloBoard
	if err := json.NewDecoder(resp.Body).Decode(&board); err != nil {
		return nil, fmt.Errorf("failed to decode Trello response: %w", err)
	}

	zap.L().Info("Fetched Trello board",
		zap.String("boardID", boardID),
		zap.Int("lists", len(board.Lists)),
		zap.Int("cards", len(board.Cards)),
	)
	return &board, nil
}

// ConvertTrelloBoard maps a fetched Trello board to a new board owned by
// userID. Lists keep their Trello order and cards keep their positions;
// cards of closed or unknown lists are skipped.
func ConvertTrelloBoard(tb *models.TrelloBoard, userID string, now time.Time) (models.Board, []models.List, []models.Task) {
	board := models.Board{ID: uuid.NewString(), Title: tb.Name, UserID: userID}

	open := slices.DeleteFunc(slices.Clone(tb.Lists), func(l models.TrelloListData) bool { return l.Closed })
	slices.SortStableFunc(open, func(a, b models.TrelloListData) int { return cmp.Compare(a.Pos, b.Pos) })

	listIDs := make(map[string]string, len(open))
	lists := make([]models.List, 0, len(open))
	for i, tl := range open {
		// Lists display in creation order.
		l := models.List{
			ID:        uuid.NewString(),
			BoardID:   board.ID,
			Name:      tl.Name,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		listIDs[tl.ID] = l.ID
		lists = append(lists, l)
	}

	var tasks []models.Task
	for _, card := range tb.Cards {
		listID, ok := listIDs[card.ListID]
		if card.Closed || !ok {
			continue
		}
		task := models.Task{
			ListID:   listID,
			Title:    card.Name,
			Content:  card.Desc,
			Position: card.Pos,
		}
		if card.Due != "" {
			due, err := time.Parse(time.RFC3339, card.Due)
			if err != nil {
				zap.L().Warn("Ignoring unparsable Trello due date", zap.String("cardID", card.ID), zap.String("due", card.Due))
			} else {
				task.DueDate = &due
			}
		}
		tasks = append(tasks, task)
	}
	return board, lists, tasks
}
