package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// envelope 推送协议的外层结构：{"type": "<channel>_data|_update", "data": ...}
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func parseEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("envelope parse: %w", err)
	}
	if env.Type == "" {
		return envelope{}, fmt.Errorf("envelope without type")
	}
	return env, nil
}

// decodePayload 把 envelope.Data 解码到具体类型。
// 时间戳在线上是 RFC3339 字符串，通过 DecodeHook 还原成 time.Time。
func decodePayload(data interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:     out,
	})
	if err != nil {
		return fmt.Errorf("payload decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("payload decode: %w", err)
	}
	return nil
}
