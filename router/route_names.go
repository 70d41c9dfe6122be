package router

const (
	// Root is the landing page.
	Root = "/"

	// Health exposes the liveness endpoint.
	Health = "/health"

	// Packages is the wildcard below the mount point; the path parser
	// splits it into registry, namespace, package and trailer. Namespaces
	// may span multiple segments, which rules out fixed-parameter routes.
	Packages = "/*"
)
