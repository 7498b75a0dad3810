// Package script loads manifest classes written in Starlark.
//
// A script is executed once at load time against a fresh subclass of a
// base class. Top-level functions become recipes; top-level calls queue
// them and set configuration:
//
//	configure({"nginx": {"port": 8080}})
//
//	def nginx(options):
//	    package("nginx", ensure = "installed")
//	    file("/etc/nginx/conf.d/site.conf",
//	         content = "listen %d;" % options["port"],
//	         require = package("nginx"))
//	    service("nginx", ensure = "running",
//	            subscribe = reference("file", "/etc/nginx/conf.d/site.conf"))
//
//	recipe("nginx")
//
// Every resource type of the engine whose name is an identifier is a
// builtin: called with only a name it returns a reference, with
// parameters it declares the resource. declare(type, name, **params)
// covers the other types. Inside recipes configuration() returns the
// merged configuration and recipe(...) queues more recipes into the
// current pass. Resources are only available inside recipes.
//
// load() resolves paths relative to the directory of the main script.
package script
