package executor

import (
	"github.com/cs-joeguo/MinerUVision/internal/server/core"
	"github.com/cs-joeguo/MinerUVision/pkg/protocol"
)

func paramsToWire(p core.Params) protocol.Params {
	formula := p.Extract.Formula
	table := p.Extract.Table
	return protocol.Params{
		Method:      p.Extract.Method,
		Backend:     p.Extract.Backend,
		Lang:        p.Extract.Lang,
		Formula:     &formula,
		Table:       &table,
		StartPage:   p.Extract.StartPage,
		EndPage:     p.Extract.EndPage,
		SglangURL:   p.Extract.SglangURL,
		DetailLevel: p.Vision.DetailLevel,
	}
}

func resultFromWire(resp *protocol.ProcessResponse) *core.Result {
	res := &core.Result{
		CoreFiles:           resp.CoreFiles,
		PDFURL:              resp.PDFURL,
		ConvertedFromOffice: resp.ConvertedFromOffice,
		ImageCount:          resp.ImageCount,
		DescriptionsURL:     resp.DescriptionsURL,
		CombinedJSONURL:     resp.CombinedJSONURL,
		CombinedMDURL:       resp.CombinedMDURL,
	}
	if len(resp.Descriptions) > 0 {
		res.Descriptions = make([]core.ImageDescription, len(resp.Descriptions))
		for i, d := range resp.Descriptions {
			res.Descriptions[i] = core.ImageDescription{
				Summary: d.Summary,
				Detail:  d.Detail,
				Page:    d.Page,
				Index:   d.Index,
			}
		}
	}
	return res
}

func parseFailureCode(code string) core.FailureCode {
	switch fc := core.FailureCode(code); fc {
	case core.FailValidation, core.FailNoDevice, core.FailConversion,
		core.FailExtraction, core.FailInference, core.FailStorage,
		core.FailRemoteTimeout, core.FailInternal:
		return fc
	}
	return core.FailInternal
}
