package tokenizer

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Config holds the fields of tokenizer_config.json the server uses.
type Config struct {
	AddBOS       bool
	AddEOS       bool
	BOSToken     string
	EOSToken     string
	ChatTemplate string
}

// ParseConfig reads tokenizer_config.json contents. Token fields may be a
// plain string or an AddedToken object with a "content" key; chat_template
// may be a string or a list of named templates, in which case "default"
// wins. Empty input yields a zero Config.
func ParseConfig(raw []byte) (Config, error) {
	if len(raw) == 0 {
		return Config{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return Config{}, fmt.Errorf("parse tokenizer_config.json: invalid json")
	}
	root := gjson.ParseBytes(raw)
	return Config{
		AddBOS:       root.Get("add_bos_token").Bool(),
		AddEOS:       root.Get("add_eos_token").Bool(),
		BOSToken:     tokenField(root.Get("bos_token")),
		EOSToken:     tokenField(root.Get("eos_token")),
		ChatTemplate: chatTemplate(root.Get("chat_template")),
	}, nil
}

func tokenField(v gjson.Result) string {
	if v.IsObject() {
		return v.Get("content").String()
	}
	if v.Type == gjson.String {
		return v.String()
	}
	return ""
}

func chatTemplate(v gjson.Result) string {
	if !v.IsArray() {
		if v.Type == gjson.String {
			return v.String()
		}
		return ""
	}
	var first string
	for _, item := range v.Array() {
		tpl := item.Get("template").String()
		if item.Get("name").String() == "default" {
			return tpl
		}
		if first == "" {
			first = tpl
		}
	}
	return first
}
