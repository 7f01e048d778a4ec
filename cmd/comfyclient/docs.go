package main

// General API documentation for swaggo. Generate with `swag init -g cmd/comfyclient/docs.go -o docs`.
//
// @title           comfyclient API
// @version         1.0
// @description     Local control surface of a ComfyUI provider client: submit jobs, configure the router and rollup sequencer, and follow job events.
//
// @contact.name   comfyclient maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
