package main

import (
	olake "github.com/datazip-inc/olake-github"
	driver "github.com/datazip-inc/olake-github/drivers/github/internal"
)

func main() {
	olake.RegisterDriver(driver.New())
}
