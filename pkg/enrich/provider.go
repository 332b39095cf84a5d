package enrich

import "context"

// Property binds a property name to the accessor that reads it.
type Property struct {
	Name string
	Get  Accessor
}

// Option configures a Provider.
type Option func(*Provider)

// WithErrorTemplate overrides the template used for failed lookups,
// e.g. to localize it.
func WithErrorTemplate(template string) Option {
	return func(p *Provider) {
		p.template = template
	}
}

// Provider exposes a fixed set of named properties, each read through its
// own accessor. It implements core.InfoProvider.
type Provider struct {
	name     string
	props    []Property
	template string
}

// NewProvider creates a provider. Property names should carry a prefix
// unique to the provider (e.g. "Machine.") so that providers do not
// overwrite each other in a shared dictionary.
func NewProvider(name string, props []Property, opts ...Option) *Provider {
	p := &Provider{
		name:     name,
		props:    append([]Property(nil), props...),
		template: DefaultErrorTemplate,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

// PropertyNames lists the declared property names in declaration order.
func (p *Provider) PropertyNames() []string {
	names := make([]string, len(p.props))
	for i, prop := range p.props {
		names[i] = prop.Name
	}
	return names
}

// GetProperty reads one property. Unknown names and failed lookups both
// yield the formatted error template.
func (p *Provider) GetProperty(ctx context.Context, name string) string {
	for _, prop := range p.props {
		if prop.Name == name {
			return SafeValue(ctx, p.template, prop.Get)
		}
	}
	return FormatError(p.template, "unknown property "+name)
}

// PopulateDictionary writes every declared property into dict, replacing
// existing values with the same name.
func (p *Provider) PopulateDictionary(ctx context.Context, dict map[string]any) {
	for _, prop := range p.props {
		dict[prop.Name] = SafeValue(ctx, p.template, prop.Get)
	}
}
