package tplparser

import "strings"

// Render returns (output, ok). ok=false means neither the architecture nor
// the template source matched a known renderer.
func Render(opts RenderOptions) (string, bool, error) {
	if out, ok, err := renderByArch(opts); ok || err != nil {
		return out, ok, err
	}
	if opts.Template == "" {
		return "", false, nil
	}
	return renderByTemplateSignature(opts)
}

func renderByArch(opts RenderOptions) (string, bool, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Arch)) {
	case "qwen3", "qwen2":
		return renderQwen3(opts)
	case "chatml":
		return renderChatML(opts)
	default:
		return "", false, nil
	}
}

func renderByTemplateSignature(opts RenderOptions) (string, bool, error) {
	tpl := opts.Template
	switch {
	case strings.Contains(tpl, "<tools>") || strings.Contains(tpl, "<tool_call>"):
		return renderQwen3(opts)
	case strings.Contains(tpl, "<|im_start|>") && strings.Contains(tpl, "<|im_end|>"):
		return renderChatML(opts)
	default:
		return "", false, nil
	}
}
