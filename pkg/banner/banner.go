package banner

import (
	"fmt"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██║╚██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║ ██║╚████║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║  ╚██║ ╚███║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝   ╚══╝  ╚══╝ ╚═════╝
`

// Print shows the startup banner for the reference backend.
func Print(addr, front, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", addr)
	fmt.Printf("Transport: %s\n", front)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /v1/chats/{chat}/messages?user=<id>&limit=<n>&cursor=<c> - page of messages")
	fmt.Println("GET  /v1/messages/{id}                                        - single message")
	fmt.Println("POST /v1/chats/{chat}/messages                                - create message")
	fmt.Println("GET  /v1/chats/{chat}/changes                                 - websocket change feed")
	fmt.Println("GET  /metrics, /healthz")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/chats/c1/messages' -d '{\"sender_id\":\"u1\",\"content\":\"hello\"}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/chats/c1/messages?user=u1&limit=10'\n", addr)
}
