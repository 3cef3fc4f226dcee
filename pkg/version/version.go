package version

const Version = "v0.3.1-ea1c7b2e-dev"
