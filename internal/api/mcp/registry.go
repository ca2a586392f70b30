package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/chatkeep/internal/storage"
)

// widgetMimeType is the content type of all widget markup resources.
const widgetMimeType = "text/html+skybridge"

// CatalogFile is the on-disk YAML shape of the widget catalog.
type CatalogFile struct {
	Widgets []CatalogWidget   `yaml:"widgets"`
	Help    map[string]string `yaml:"help,omitempty"` // locale -> help text
}

// CatalogWidget is one widget entry in the catalog file. Markup may be
// inlined or referenced via MarkupFile (resolved relative to the catalog).
type CatalogWidget struct {
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Invoking    string   `yaml:"invoking,omitempty"` // status line shown while the tool runs
	Invoked     string   `yaml:"invoked,omitempty"`  // status line shown after the tool returns
	Markup      string   `yaml:"markup,omitempty"`
	MarkupFile  string   `yaml:"markup_file,omitempty"`
	Tools       []string `yaml:"tools,omitempty"` // tool names rendered by this widget
}

// LoadCatalog reads and validates the widget catalog file.
func LoadCatalog(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: failed to read widget catalog: %w", err)
	}

	var catalog CatalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("mcp: failed to parse widget catalog: %w", err)
	}

	baseDir := filepath.Dir(path)
	for i := range catalog.Widgets {
		w := &catalog.Widgets[i]
		if w.Name == "" {
			return nil, fmt.Errorf("mcp: widget catalog entry %d has no name", i)
		}
		if w.Markup == "" && w.MarkupFile != "" {
			markup, err := os.ReadFile(filepath.Join(baseDir, w.MarkupFile))
			if err != nil {
				return nil, fmt.Errorf("mcp: failed to read markup for widget %q: %w", w.Name, err)
			}
			w.Markup = string(markup)
		}
		if w.Markup == "" {
			return nil, fmt.Errorf("mcp: widget %q has no markup", w.Name)
		}
	}

	return &catalog, nil
}

// WidgetDescriptor is one registered widget with its full version fan-out.
// Descriptors are built once at startup and never mutated afterward.
type WidgetDescriptor struct {
	Name        string
	Title       string
	Description string
	Invoking    string
	Invoked     string
	Markup      string

	// Versions is the ordered set of supported version strings.
	Versions []string

	// ActiveVersion is the version exposed in tool listings.
	ActiveVersion string

	// ActiveURI is the versioned URI of the active version.
	ActiveURI string

	uriByVersion map[string]string
}

// URIForVersion returns the versioned URI, or "" for unsupported versions.
func (w *WidgetDescriptor) URIForVersion(version string) string {
	return w.uriByVersion[version]
}

// WidgetURI builds the canonical resource URI for a widget version. An empty
// version yields the bare alias that always resolves to the active version.
func WidgetURI(name, version string) string {
	if version == "" {
		return fmt.Sprintf("ui://widget/%s.html", name)
	}
	return fmt.Sprintf("ui://widget/%s-v%s.html", name, version)
}

// resolvedURI records which widget and version a registered URI points at.
type resolvedURI struct {
	widget  *WidgetDescriptor
	version string
}

// Registry is the immutable widget/resource table built once at startup from
// the catalog file and the configured version set.
type Registry struct {
	widgets       []*WidgetDescriptor
	byName        map[string]*WidgetDescriptor
	byURI         map[string]resolvedURI
	widgetForTool map[string]*WidgetDescriptor
	help          map[string]string
}

// NewRegistry builds the registry. Every widget is fanned out across the
// supported versions; activeVersion defaults to the last (highest) entry of
// versions when empty.
func NewRegistry(catalog *CatalogFile, versions []string, activeVersion string) (*Registry, error) {
	if catalog == nil || len(catalog.Widgets) == 0 {
		return nil, fmt.Errorf("mcp: widget catalog is empty")
	}
	if len(versions) == 0 {
		versions = []string{"1"}
	}
	if activeVersion == "" {
		activeVersion = versions[len(versions)-1]
	}

	supported := false
	for _, v := range versions {
		if v == activeVersion {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("mcp: active version %q not in supported set %v", activeVersion, versions)
	}

	r := &Registry{
		byName:        make(map[string]*WidgetDescriptor),
		byURI:         make(map[string]resolvedURI),
		widgetForTool: make(map[string]*WidgetDescriptor),
		help:          catalog.Help,
	}

	for _, cw := range catalog.Widgets {
		w := &WidgetDescriptor{
			Name:          cw.Name,
			Title:         cw.Title,
			Description:   cw.Description,
			Invoking:      cw.Invoking,
			Invoked:       cw.Invoked,
			Markup:        cw.Markup,
			Versions:      append([]string(nil), versions...),
			ActiveVersion: activeVersion,
			uriByVersion:  make(map[string]string, len(versions)),
		}

		for _, v := range versions {
			uri := WidgetURI(w.Name, v)
			w.uriByVersion[v] = uri
			if _, dup := r.byURI[uri]; dup {
				return nil, fmt.Errorf("mcp: duplicate resource URI %s", uri)
			}
			r.byURI[uri] = resolvedURI{widget: w, version: v}
		}
		w.ActiveURI = w.uriByVersion[activeVersion]

		// Bare alias resolves to the active version.
		r.byURI[WidgetURI(w.Name, "")] = resolvedURI{widget: w, version: activeVersion}

		if _, dup := r.byName[w.Name]; dup {
			return nil, fmt.Errorf("mcp: duplicate widget name %q", w.Name)
		}
		r.byName[w.Name] = w
		r.widgets = append(r.widgets, w)

		for _, tool := range cw.Tools {
			if prev, dup := r.widgetForTool[tool]; dup {
				return nil, fmt.Errorf("mcp: tool %q bound to both widgets %q and %q", tool, prev.Name, w.Name)
			}
			r.widgetForTool[tool] = w
		}
	}

	return r, nil
}

// Widget returns a descriptor by name.
func (r *Registry) Widget(name string) (*WidgetDescriptor, bool) {
	w, ok := r.byName[name]
	return w, ok
}

// WidgetForTool returns the widget bound to a tool, if any.
func (r *Registry) WidgetForTool(toolName string) (*WidgetDescriptor, bool) {
	w, ok := r.widgetForTool[toolName]
	return w, ok
}

// Resources returns one entry per supported version of every widget, so
// clients pinned to an older version still resolve their URI.
func (r *Registry) Resources() []MCPResource {
	var resources []MCPResource
	for _, w := range r.widgets {
		for _, v := range w.Versions {
			resources = append(resources, MCPResource{
				URI:         w.uriByVersion[v],
				Name:        fmt.Sprintf("%s (v%s)", w.Title, v),
				Description: w.Description,
				MimeType:    widgetMimeType,
				Meta:        w.meta(w.uriByVersion[v]),
			})
		}
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return resources
}

// ResourceTemplates describes the URI pattern widget resources follow.
func (r *Registry) ResourceTemplates() []MCPResourceTemplate {
	return []MCPResourceTemplate{
		{
			URITemplate: "ui://widget/{name}.html",
			Name:        "Widget markup",
			Description: "Rendered widget markup; append -v<version> before .html to pin a version.",
			MimeType:    widgetMimeType,
		},
	}
}

// Read resolves a URI and returns the markup with the requested URI echoed
// into the metadata, not the stored active one. Unknown URIs return an error
// naming the URI; this is a caller error, not a transport failure.
func (r *Registry) Read(uri string) (*MCPResourceContents, error) {
	resolved, ok := r.byURI[strings.TrimSpace(uri)]
	if !ok {
		// A URI outside the catalog is a caller error, not a server fault.
		return nil, fmt.Errorf("%w: unknown resource: %s", storage.ErrInvalidInput, uri)
	}

	return &MCPResourceContents{
		URI:      uri,
		MimeType: widgetMimeType,
		Text:     resolved.widget.Markup,
		Meta:     resolved.widget.meta(uri),
	}, nil
}

// HelpText returns the catalog help text for a locale, falling back to "en"
// and then to a built-in default.
func (r *Registry) HelpText(locale string) (string, string) {
	if locale == "" {
		locale = "en"
	}
	if text, ok := r.help[locale]; ok {
		return locale, text
	}
	if text, ok := r.help["en"]; ok {
		return "en", text
	}
	return "en", "Save conversations with save-chat, paste transcripts with save-transcript, and find them again with list-chats or search-chats."
}

// meta builds the descriptor metadata block with the given URI substituted
// into the output-template field.
func (w *WidgetDescriptor) meta(uri string) map[string]interface{} {
	return map[string]interface{}{
		"openai/outputTemplate":          uri,
		"openai/toolInvocation/invoking": w.Invoking,
		"openai/toolInvocation/invoked":  w.Invoked,
		"openai/widgetDescription":       w.Description,
	}
}
