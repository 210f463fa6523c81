// Package buildconfig reads the two small text files that describe an
// installed build: the .build.info table at the installation root, which
// names the active build configuration, and the build configuration itself,
// a list of "key = value..." lines naming the content and encoded keys of the
// storage's bootstrap tables.
package buildconfig
