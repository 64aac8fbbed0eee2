package provider

import (
	"encoding/base64"
	"encoding/json"
)

// requestor はRequestorヘッダーに埋め込む販売拠点の指定。
type requestor struct {
	PointOfSaleID int `json:"pointOfSaleId"`
}

// EncodeRequestor はRequestorヘッダーの値（JSONのbase64表現）を返す。
func EncodeRequestor(posID int) string {
	b, _ := json.Marshal(requestor{PointOfSaleID: posID})
	return base64.StdEncoding.EncodeToString(b)
}
