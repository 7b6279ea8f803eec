package detect

import "context"

// legacyProbe covers engines the signature does not recognise. Legacy Edge
// exposes msSaveBlob and hides indexedDB in InPrivate windows.
type legacyProbe struct{}

func (legacyProbe) Probe(ctx context.Context, host Host, r Reporter) error {
	if host.Has(ctx, FeatureLegacyBlobSave) {
		r.Report(!host.Has(ctx, FeatureIndexedDB))
		return nil
	}
	r.Report(false)
	return nil
}
