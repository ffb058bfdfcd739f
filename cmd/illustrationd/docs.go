package main

// General API documentation for swaggo. Run `make swagger-gen` to regenerate
// the docs package.
//
// @title           illustrationd API
// @version         1.0
// @description     HTTP API for illustration generation and adapter training.
//
// @contact.name   illustrationd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
//
// @BasePath  /
//
// @schemes http
