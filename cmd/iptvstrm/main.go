// Command iptvstrm mirrors an IPTV provider's VOD catalog into a media
// library of .strm pointer files and .nfo metadata.
//
//	sync      Reconcile movies or series now, or reset a kind's cache
//	playlist  List, inspect and materialize M3U playlist sources
//	serve     Run queued jobs, schedules and the /healthz /metrics /status server
//	probe     Check provider accounts and playlist sources, report which work
//	migrate   Apply database migrations and print the schema version
package main

func main() {
	Execute()
}
