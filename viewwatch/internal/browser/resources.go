package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// applyResourceBlocking intercepts requests and fails those whose resource
// type is in types.
func applyResourceBlocking(page *rod.Page, types []string) *rod.HijackRouter {
	block := blockSet(types)
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if block[string(h.Request.Type())] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// blockSet maps config names (images, fonts, ...) to CDP resource types.
func blockSet(types []string) map[string]bool {
	aliases := map[string]proto.NetworkResourceType{
		"images":      proto.NetworkResourceTypeImage,
		"fonts":       proto.NetworkResourceTypeFont,
		"media":       proto.NetworkResourceTypeMedia,
		"stylesheets": proto.NetworkResourceTypeStylesheet,
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		name := strings.ToLower(strings.TrimSpace(t))
		if rt, ok := aliases[name]; ok {
			set[string(rt)] = true
			continue
		}
		// Raw CDP names (Image, Script, XHR, ...) pass through as-is.
		if name != "" {
			set[strings.ToUpper(name[:1])+name[1:]] = true
		}
	}
	return set
}
