package models

type TrelloListData struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Closed bool    `json:"closed"`
	Pos    float64 `json:"pos"`
}

type TrelloCardData struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Desc   string  `json:"desc"`
	ListID string  `json:"idList"`
	Due    string  `json:"due"`
	Pos    float64 `json:"pos"`
	Closed bool    `json:"closed"`
}

// TrelloBoard is the response of GET /1/boards/{id}?lists=open&cards=open.
type TrelloBoard struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Lists []TrelloListData `json:"lists"`
	Cards []TrelloCardData `json:"cards"`
}
